package activation

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fgeck/masternode-setup/internal/models"
	"github.com/fgeck/masternode-setup/internal/services/daemon"
	"github.com/fgeck/masternode-setup/internal/services/ssh/sshtest"
	"github.com/fgeck/masternode-setup/internal/services/wallet"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTxID    = "2bcd3c84c84f87eaa86e4e56834c92927a07f9e18718810b92e0d0324456a67c"
	testAddress = "XwnLY9Tf7Zsef8gMGL2fhWA9ZmMjt4KPwg"
	testKey     = "93HaYBVUCYjEMeeH1Y4sBGLALQZE1Yc1K64xiqgX37tGBDQL8Xg"

	cmdPs        = "ps cax | grep dashd > /dev/null"
	cmdStop      = "su -c 'dash-cli stop' dash"
	cmdStart     = "su -c 'dashd -daemon' dash"
	cmdChown     = "chown -R dash:dash /home/dash"
	cmdRmDebug   = "rm -f /home/dash/.dashcore/debug.log"
	cmdGrepReady = "grep -q 'waiting for remote activation' /home/dash/.dashcore/debug.log"
)

var errLocked = &wallet.CommandError{
	Args:   []string{"sendtoaddress"},
	Output: "error code: -13\nerror message:\nError: Please enter the wallet passphrase with walletpassphrase first.",
	Code:   -13,
	Kind:   wallet.KindLocked,
}

var errBadPassphrase = &wallet.CommandError{
	Args: []string{"walletpassphrase", "****", "60"},
	Code: -14,
	Kind: wallet.KindBadPassphrase,
}

type mockProcess struct {
	done chan struct{}
	once sync.Once
}

func newMockProcess() *mockProcess { return &mockProcess{done: make(chan struct{})} }

func (p *mockProcess) Pid() int    { return 4242 }
func (p *mockProcess) Wait() error { <-p.done; return nil }
func (p *mockProcess) Kill() error { p.exit(); return nil }
func (p *mockProcess) exit()       { p.once.Do(func() { close(p.done) }) }

// mockWallet answers like a synced wallet holding 10000 coins unless a func field overrides it.
type mockWallet struct {
	mu    sync.Mutex
	calls map[string]int

	proc *mockProcess

	getBlockchainInfoFunc func() (*models.BlockchainInfo, error)
	listUnspentFunc       func() ([]models.UnspentOutput, error)
	unlockFunc            func(passphrase string) error
	sendFunc              func(address string, amount float64) (string, error)
	outputsFunc           func() ([]models.MasternodeOutput, error)
	startAliasFunc        func(alias string) (string, error)
	startDaemonFunc       func() (wallet.Process, error)
	stopDaemonFunc        func() error
}

func newMockWallet() *mockWallet {
	return &mockWallet{calls: make(map[string]int), proc: newMockProcess()}
}

func (m *mockWallet) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
}

func (m *mockWallet) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockWallet) GetBalance(context.Context) (float64, error) {
	m.record("getbalance")
	return 10000, nil
}

func (m *mockWallet) ListUnspent(context.Context) ([]models.UnspentOutput, error) {
	m.record("listunspent")
	if m.listUnspentFunc != nil {
		return m.listUnspentFunc()
	}
	return []models.UnspentOutput{{TxID: "aa", Amount: 6000}, {TxID: "bb", Amount: 4000}}, nil
}

func (m *mockWallet) GetBlockchainInfo(context.Context) (*models.BlockchainInfo, error) {
	m.record("getblockchaininfo")
	if m.getBlockchainInfoFunc != nil {
		return m.getBlockchainInfoFunc()
	}
	return &models.BlockchainInfo{VerificationProgress: 1}, nil
}

func (m *mockWallet) UnlockWallet(_ context.Context, passphrase string, _ time.Duration) error {
	m.record("walletpassphrase")
	if m.unlockFunc != nil {
		return m.unlockFunc(passphrase)
	}
	return nil
}

func (m *mockWallet) SendToAddress(_ context.Context, address string, amount float64) (string, error) {
	m.record("sendtoaddress")
	if m.sendFunc != nil {
		return m.sendFunc(address, amount)
	}
	return testTxID, nil
}

func (m *mockWallet) GetNewAddress(context.Context, string) (string, error) {
	m.record("getnewaddress")
	return testAddress, nil
}

func (m *mockWallet) MasternodeGenKey(context.Context) (string, error) {
	m.record("genkey")
	return testKey, nil
}

func (m *mockWallet) MasternodeOutputs(context.Context) ([]models.MasternodeOutput, error) {
	m.record("outputs")
	if m.outputsFunc != nil {
		return m.outputsFunc()
	}
	return []models.MasternodeOutput{{TxHash: "ff00", OutputIdx: 0}, {TxHash: testTxID, OutputIdx: 1}}, nil
}

func (m *mockWallet) MasternodeStartAlias(_ context.Context, alias string) (string, error) {
	m.record("start-alias")
	if m.startAliasFunc != nil {
		return m.startAliasFunc(alias)
	}
	return "Successfully started masternode", nil
}

func (m *mockWallet) StartDaemon(context.Context) (wallet.Process, error) {
	m.record("startdaemon")
	if m.startDaemonFunc != nil {
		return m.startDaemonFunc()
	}
	return m.proc, nil
}

func (m *mockWallet) StopDaemon(context.Context) error {
	m.record("stop")
	if m.stopDaemonFunc != nil {
		return m.stopDaemonFunc()
	}
	m.proc.exit()
	return nil
}

type mockPrompter struct {
	answers []string
	calls   int
}

func (p *mockPrompter) Passphrase(string) (string, error) {
	p.calls++
	if len(p.answers) == 0 {
		return "", errors.New("no more answers")
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) count(d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.waits {
		if w == d {
			n++
		}
	}
	return n
}

// remoteHost answers like a VPS where the daemon is stopped until started.
func remoteHost() *sshtest.Channel {
	started := false
	var mu sync.Mutex
	return &sshtest.Channel{Handler: func(command string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		switch command {
		case cmdStart:
			started = true
		case cmdPs:
			if !started {
				return "", sshtest.Exit(command, 1)
			}
		}
		return "", nil
	}}
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.Config {
	return models.Config{
		Coin: models.CoinConfig{Name: "dash", Cli: "dash-cli", Daemon: "dashd", Collateral: 1000, Port: 9999},
		VPS:  models.VPSConfig{DataDir: ".dashcore", ConfFile: "dash.conf", DebugFile: "debug.log"},
		SSH:  models.SSHConfig{Host: "203.0.113.10", Port: 22, Username: "root", Password: "pw"},
		Timing: models.TimingConfig{
			DaemonGrace:            time.Millisecond,
			SyncPollInterval:       5 * time.Second,
			RemoteStopSettle:       20 * time.Second,
			RemoteStartSettle:      21 * time.Second,
			ActivationPollInterval: 10 * time.Second,
			UnlockTimeout:          60 * time.Second,
		},
		Activation: models.ActivationSettings{
			ReadyMarker:    "waiting for remote activation",
			UnlockAttempts: 3,
		},
	}
}

func testPaths(t *testing.T) models.Paths {
	t.Helper()
	dir := t.TempDir()
	paths := models.Paths{
		Cli:            "/opt/dash/daemon/dash-cli",
		Daemon:         "/opt/dash/daemon/dashd",
		WalletConf:     filepath.Join(dir, "dash.conf"),
		MasternodeConf: filepath.Join(dir, "masternode.conf"),
	}
	require.NoError(t, os.WriteFile(paths.MasternodeConf, []byte("# Masternode config file"), 0o600))
	return paths
}

type fixture struct {
	wallet   *mockWallet
	channel  *sshtest.Channel
	sshSvc   *sshtest.Service
	prompter *mockPrompter
	sleeper  *recordingSleeper
	svc      *Impl
}

func newFixture() *fixture {
	f := &fixture{
		wallet:   newMockWallet(),
		channel:  remoteHost(),
		prompter: &mockPrompter{},
		sleeper:  &recordingSleeper{},
	}
	f.sshSvc = &sshtest.Service{Channel: f.channel}
	f.svc = NewWithSleeper(testLogger(), f.wallet, f.sshSvc, f.prompter, f.sleeper.sleep)
	return f
}

func TestRun_Success(t *testing.T) {
	f := newFixture()
	paths := testPaths(t)

	result, err := f.svc.Run(context.Background(), testConfig(), paths, "mn1")

	require.NoError(t, err)
	assert.Equal(t, "mn1", result.Alias)
	assert.Equal(t, models.CollateralTx{TxID: testTxID, Address: testAddress, OutputIndex: 1}, result.Collateral)
	assert.Equal(t, testKey, result.MasternodeKey)
	assert.InDelta(t, 10000.0, result.Balance, 1e-9)
	assert.False(t, result.ReadyChecked)

	walletConf, err := os.ReadFile(paths.WalletConf)
	require.NoError(t, err)
	assert.Regexp(t, `^rpcuser=[A-Za-z0-9]{32}\nrpcpassword=[A-Za-z0-9]{32}\n$`, string(walletConf))

	registry, err := os.ReadFile(paths.MasternodeConf)
	require.NoError(t, err)
	assert.Equal(t, "# Masternode config file\nmn1 203.0.113.10:9999 "+testKey+" "+testTxID+" 1", string(registry))

	assert.Equal(t, []string{cmdPs, cmdChown, cmdRmDebug, cmdStart, cmdPs}, f.channel.Commands())
	assert.Equal(t, 1, f.channel.Closes())

	conf, ok := f.channel.Uploaded("/home/dash/.dashcore/dash.conf")
	require.True(t, ok)
	assert.Contains(t, string(conf), "externalip=203.0.113.10\n")
	assert.Contains(t, string(conf), "masternodeprivkey="+testKey+"\n")
	assert.Contains(t, string(conf), "port=9999\n")
	assert.Regexp(t, `rpcuser=[A-Za-z0-9]{32}\n`, string(conf))
	assert.NotContains(t, string(conf), string(walletConf[:40]))

	assert.Equal(t, 1, f.wallet.count("sendtoaddress"))
	assert.Equal(t, 1, f.wallet.count("start-alias"))
	assert.Equal(t, 1, f.wallet.count("stop"))
	assert.Equal(t, 0, f.prompter.calls)
	assert.Equal(t, 1, f.sleeper.count(21*time.Second))
	assert.Equal(t, 0, f.sleeper.count(20*time.Second))
}

func TestRun_InsufficientFunds(t *testing.T) {
	f := newFixture()
	f.wallet.listUnspentFunc = func() ([]models.UnspentOutput, error) {
		return []models.UnspentOutput{{Amount: 300}, {Amount: 200}}, nil
	}

	_, err := f.svc.Run(context.Background(), testConfig(), testPaths(t), "mn1")

	var fundsErr *InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	assert.InDelta(t, 500.0, fundsErr.Available, 1e-9)
	assert.InDelta(t, 1000.0, fundsErr.Required, 1e-9)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageFunding, stageErr.Stage)

	assert.Equal(t, 0, f.wallet.count("getnewaddress"))
	assert.Equal(t, 0, f.wallet.count("sendtoaddress"))
	assert.Equal(t, 0, f.sshSvc.Opens())
	assert.Equal(t, 1, f.wallet.count("stop"))
}

func TestRun_SyncPollsUntilVerified(t *testing.T) {
	f := newFixture()
	progress := []float64{0.2, 0.6, 1.0}
	f.wallet.getBlockchainInfoFunc = func() (*models.BlockchainInfo, error) {
		p := progress[0]
		if len(progress) > 1 {
			progress = progress[1:]
		}
		return &models.BlockchainInfo{VerificationProgress: p}, nil
	}

	_, err := f.svc.Run(context.Background(), testConfig(), testPaths(t), "mn1")

	require.NoError(t, err)
	assert.Equal(t, 3, f.wallet.count("getblockchaininfo"))
	assert.Equal(t, 2, f.sleeper.count(5*time.Second))
}

func TestRun_SyncWaitsOutWarmup(t *testing.T) {
	f := newFixture()
	polls := 0
	f.wallet.getBlockchainInfoFunc = func() (*models.BlockchainInfo, error) {
		polls++
		if polls == 1 {
			return nil, &wallet.CommandError{Code: -28, Kind: wallet.KindWarmingUp}
		}
		return &models.BlockchainInfo{VerificationProgress: 1}, nil
	}

	_, err := f.svc.Run(context.Background(), testConfig(), testPaths(t), "mn1")

	require.NoError(t, err)
	assert.Equal(t, 2, polls)
	assert.Equal(t, 1, f.sleeper.count(5*time.Second))
}

func TestRun_SyncTimeout(t *testing.T) {
	f := newFixture()
	f.wallet.getBlockchainInfoFunc = func() (*models.BlockchainInfo, error) {
		return &models.BlockchainInfo{VerificationProgress: 0.5}, nil
	}
	f.svc.sleep = sleepContext

	cfg := testConfig()
	cfg.Timing.SyncPollInterval = time.Millisecond
	cfg.Activation.SyncTimeout = 20 * time.Millisecond

	_, err := f.svc.Run(context.Background(), cfg, testPaths(t), "mn1")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "wallet not synchronized after 20ms")
	assert.Equal(t, 1, f.wallet.count("stop"))
}

func TestRun_LockedSendRetriedOnce(t *testing.T) {
	f := newFixture()
	f.prompter.answers = []string{"correct horse"}
	sends := 0
	f.wallet.sendFunc = func(string, float64) (string, error) {
		sends++
		if sends == 1 {
			return "", errLocked
		}
		return testTxID, nil
	}
	var unlockedWith string
	f.wallet.unlockFunc = func(p string) error {
		unlockedWith = p
		return nil
	}

	_, err := f.svc.Run(context.Background(), testConfig(), testPaths(t), "mn1")

	require.NoError(t, err)
	assert.Equal(t, 2, sends)
	assert.Equal(t, 1, f.prompter.calls)
	assert.Equal(t, "correct horse", unlockedWith)
}

func TestRun_LockedTwiceFails(t *testing.T) {
	f := newFixture()
	f.prompter.answers = []string{"pw"}
	f.wallet.sendFunc = func(string, float64) (string, error) { return "", errLocked }

	_, err := f.svc.Run(context.Background(), testConfig(), testPaths(t), "mn1")

	require.Error(t, err)
	assert.ErrorIs(t, err, wallet.ErrWalletLocked)
	assert.Equal(t, 2, f.wallet.count("sendtoaddress"))
	assert.Equal(t, 0, f.wallet.count("outputs"))
}

func TestRun_SendFailureNotRetried(t *testing.T) {
	f := newFixture()
	f.wallet.sendFunc = func(string, float64) (string, error) {
		return "", &wallet.CommandError{Code: -6, Kind: wallet.KindOther, Output: "Insufficient funds"}
	}

	_, err := f.svc.Run(context.Background(), testConfig(), testPaths(t), "mn1")

	require.Error(t, err)
	assert.Equal(t, 1, f.wallet.count("sendtoaddress"))
	assert.Equal(t, 0, f.prompter.calls)
}

func TestRun_WrongPassphraseReprompts(t *testing.T) {
	f := newFixture()
	f.prompter.answers = []string{"wrong", "right"}
	sends := 0
	f.wallet.sendFunc = func(string, float64) (string, error) {
		sends++
		if sends == 1 {
			return "", errLocked
		}
		return testTxID, nil
	}
	f.wallet.unlockFunc = func(p string) error {
		if p != "right" {
			return errBadPassphrase
		}
		return nil
	}

	_, err := f.svc.Run(context.Background(), testConfig(), testPaths(t), "mn1")

	require.NoError(t, err)
	assert.Equal(t, 2, f.prompter.calls)
	assert.Equal(t, 2, sends)
}

func TestRun_WrongPassphraseExhausted(t *testing.T) {
	f := newFixture()
	f.prompter.answers = []string{"a", "b", "c", "d"}
	f.wallet.sendFunc = func(string, float64) (string, error) { return "", errLocked }
	f.wallet.unlockFunc = func(string) error { return errBadPassphrase }

	_, err := f.svc.Run(context.Background(), testConfig(), testPaths(t), "mn1")

	require.Error(t, err)
	assert.ErrorIs(t, err, wallet.ErrBadPassphrase)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, f.prompter.calls)
	assert.Equal(t, 1, f.wallet.count("sendtoaddress"))
}

func TestRun_TransactionNotFound(t *testing.T) {
	tests := []struct {
		name    string
		outputs []models.MasternodeOutput
		matches int
	}{
		{"missing", []models.MasternodeOutput{{TxHash: "ff00"}}, 0},
		{"duplicated", []models.MasternodeOutput{{TxHash: testTxID, OutputIdx: 0}, {TxHash: testTxID, OutputIdx: 1}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.wallet.outputsFunc = func() ([]models.MasternodeOutput, error) { return tt.outputs, nil }

			_, err := f.svc.Run(context.Background(), testConfig(), testPaths(t), "mn1")

			var notFound *TransactionNotFoundError
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, testTxID, notFound.TxID)
			assert.Equal(t, tt.matches, notFound.Matches)
			assert.Equal(t, 0, f.wallet.count("genkey"))
		})
	}
}

func TestRun_RemoteDaemonAlreadyRunning(t *testing.T) {
	f := newFixture()
	f.channel.Handler = nil // every command succeeds, so ps reports running

	_, err := f.svc.Run(context.Background(), testConfig(), testPaths(t), "mn1")

	require.NoError(t, err)
	assert.Equal(t, []string{cmdPs, cmdStop, cmdChown, cmdRmDebug, cmdStart, cmdPs}, f.channel.Commands())
	assert.Equal(t, 1, f.sleeper.count(20*time.Second))
}

func TestRun_RemoteStartFails(t *testing.T) {
	f := newFixture()
	f.channel.Handler = func(command string) (string, error) {
		if command == cmdPs {
			return "", sshtest.Exit(command, 1)
		}
		return "", nil
	}
	paths := testPaths(t)

	_, err := f.svc.Run(context.Background(), testConfig(), paths, "mn1")

	var startErr *RemoteStartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, "dashd", startErr.Daemon)
	assert.Equal(t, 1, f.channel.Closes())
	assert.Equal(t, 0, f.wallet.count("start-alias"))

	registry, err := os.ReadFile(paths.MasternodeConf)
	require.NoError(t, err)
	assert.Equal(t, "# Masternode config file", string(registry))
}

func TestRun_WaitForReady(t *testing.T) {
	f := newFixture()
	inner := f.channel.Handler
	greps := 0
	f.channel.Handler = func(command string) (string, error) {
		if command == cmdGrepReady {
			greps++
			if greps < 3 {
				return "", sshtest.Exit(command, 1)
			}
			return "", nil
		}
		return inner(command)
	}

	cfg := testConfig()
	cfg.Activation.WaitForReady = true

	result, err := f.svc.Run(context.Background(), cfg, testPaths(t), "mn1")

	require.NoError(t, err)
	assert.True(t, result.ReadyChecked)
	assert.Equal(t, 3, greps)
	assert.Equal(t, 2, f.sleeper.count(10*time.Second))
}

func TestRun_LocalDaemonFailsToStart(t *testing.T) {
	f := newFixture()
	f.wallet.startDaemonFunc = func() (wallet.Process, error) { return nil, errors.New("exec format error") }

	_, err := f.svc.Run(context.Background(), testConfig(), testPaths(t), "mn1")

	var startErr *daemon.StartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, 0, f.wallet.count("getblockchaininfo"))
	assert.Equal(t, 0, f.wallet.count("stop"))
}

func TestRun_LocalDaemonStopFails(t *testing.T) {
	f := newFixture()
	f.wallet.stopDaemonFunc = func() error { return errors.New("rpc unavailable") }

	result, err := f.svc.Run(context.Background(), testConfig(), testPaths(t), "mn1")

	var stopErr *daemon.StopError
	require.ErrorAs(t, err, &stopErr)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageLocalDaemon, stageErr.Stage)

	require.NotNil(t, result)
	assert.Equal(t, models.CollateralTx{TxID: testTxID, Address: testAddress, OutputIndex: 1}, result.Collateral)
	assert.Equal(t, testKey, result.MasternodeKey)
	assert.Equal(t, 1, f.wallet.count("start-alias"))
}

func TestRun_StopFailureKeepsOriginalError(t *testing.T) {
	f := newFixture()
	f.wallet.stopDaemonFunc = func() error { return errors.New("rpc unavailable") }

	cfg := testConfig()
	cfg.Coin.Collateral = 1e9

	result, err := f.svc.Run(context.Background(), cfg, testPaths(t), "mn1")

	assert.Nil(t, result)
	var fundsErr *InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageFunding, stageErr.Stage)

	var stopErr *daemon.StopError
	assert.False(t, errors.As(err, &stopErr))
	assert.Equal(t, 1, f.wallet.count("stop"))
	assert.Equal(t, 0, f.wallet.count("sendtoaddress"))
}

func TestRun_BadTemplateFailsBeforeDaemonStart(t *testing.T) {
	f := newFixture()
	tmplPath := filepath.Join(t.TempDir(), "node.conf.tmpl")
	require.NoError(t, os.WriteFile(tmplPath, []byte("rpcuser=$rpcuser\nbind=${bindaddr}\n"), 0o600))

	cfg := testConfig()
	cfg.VPS.ConfTemplate = tmplPath

	_, err := f.svc.Run(context.Background(), cfg, testPaths(t), "mn1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys: bindaddr")
	assert.Equal(t, 0, f.wallet.count("startdaemon"))
}

func TestRenderConf(t *testing.T) {
	out, err := RenderConf("user=$rpcuser\npass=${rpcpassword}\nprice=$$5\n", map[string]string{
		"rpcuser":     "u",
		"rpcpassword": "p",
	})

	require.NoError(t, err)
	assert.Equal(t, "user=u\npass=p\nprice=$5\n", out)
}

func TestRenderConf_DefaultTemplate(t *testing.T) {
	out, err := RenderConf(DefaultConfTemplate, confValues(testConfig(), "u", "p", testKey))

	require.NoError(t, err)
	for _, line := range []string{"rpcuser=u", "rpcpassword=p", "externalip=203.0.113.10", "masternodeprivkey=" + testKey} {
		assert.True(t, strings.Contains(out, line+"\n"), "missing %q", line)
	}
}
