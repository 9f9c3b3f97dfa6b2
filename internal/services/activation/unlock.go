package activation

import (
	"context"
	"errors"
	"fmt"

	"github.com/fgeck/masternode-setup/internal/models"
	"github.com/fgeck/masternode-setup/internal/services/wallet"
)

const passphrasePrompt = "Please enter your wallet passphrase: "

// withUnlock runs op. If the wallet reports it is locked, the operator is
// asked to unlock it and op runs exactly once more. Other failures are
// returned as they are.
func withUnlock[T any](ctx context.Context, s *Impl, cfg models.Config, name string, op func() (T, error)) (T, error) {
	v, err := op()
	if err == nil || !errors.Is(err, wallet.ErrWalletLocked) {
		return v, err
	}

	s.logger.Warn().Str("operation", name).Msg("wallet is locked, please unlock your wallet")

	if err := s.unlock(ctx, cfg); err != nil {
		var zero T
		return zero, err
	}
	return op()
}

// unlock prompts for the passphrase until the wallet accepts it or the
// configured number of attempts is used up.
func (s *Impl) unlock(ctx context.Context, cfg models.Config) error {
	attempts := cfg.Activation.UnlockAttempts
	if attempts < 1 {
		attempts = 1
	}

	for i := 1; i <= attempts; i++ {
		passphrase, err := s.prompter.Passphrase(passphrasePrompt)
		if err != nil {
			return err
		}

		err = s.wallet.UnlockWallet(ctx, passphrase, cfg.Timing.UnlockTimeout)
		if err == nil {
			s.logger.Info().Dur("timeout", cfg.Timing.UnlockTimeout).Msg("wallet unlocked")
			return nil
		}
		if !errors.Is(err, wallet.ErrBadPassphrase) {
			return fmt.Errorf("failed to unlock wallet: %w", err)
		}

		s.logger.Warn().
			Int("attempt", i).
			Int("attempts", attempts).
			Msg("incorrect passphrase, please try again")
	}

	return fmt.Errorf("failed to unlock wallet after %d attempts: %w", attempts, wallet.ErrBadPassphrase)
}
