package models

import "time"

// ProvisionResult holds the result of the remote provisioning stage.
type ProvisionResult struct {
	Release          string
	AlreadyInstalled bool
	UserCreated      bool
	Duration         time.Duration
}

// ActivationResult holds the result of the activation stage.
type ActivationResult struct {
	Alias         string
	Collateral    CollateralTx
	MasternodeKey string
	Balance       float64
	ReadyChecked  bool
	Duration      time.Duration
}
