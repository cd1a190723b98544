package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	agentSocketNetworkConstant             = "unix"
	tcpNetworkConstant                     = "tcp"
	pseudoTerminalTypeConstant             = "xterm"
	pseudoTerminalWidthConstant            = 160
	pseudoTerminalHeightConstant           = 48
	homeDirectoryPrefixConstant            = "~/"
	defaultConnectTimeoutConstant          = 30 * time.Second
	sshConnectMessageConstant              = "opening ssh connection"
	sshIdentitySkippedMessageConstant      = "skipping ssh identity file"
	sshAgentUnavailableMessageConstant     = "ssh agent unavailable"
	hostFieldNameConstant                  = "host"
	userFieldNameConstant                  = "user"
	identityFileFieldNameConstant          = "identity_file"
	knownHostsRequiredMessageConstant      = "strict host key checking requires at least one known_hosts file"
	loggerRequiredMessageConstant          = "ssh transport logger not configured"
	sessionOpenErrorTemplateConstant       = "unable to open session on %s: %w"
	pseudoTerminalErrorTemplateConstant    = "unable to request pty on %s: %w"
	agentForwardingErrorTemplateConstant   = "unable to forward ssh agent to %s: %w"
	exitStatusMissingErrorTemplateConstant = "command on %s ended without an exit status: %w"
)

var (
	// ErrKnownHostsRequired indicates strict host key checking without a known_hosts source.
	ErrKnownHostsRequired = errors.New(knownHostsRequiredMessageConstant)
	// ErrTransportLoggerNotConfigured indicates the transport was built without a logger.
	ErrTransportLoggerNotConfigured = errors.New(loggerRequiredMessageConstant)
)

// DialFunction opens an SSH client connection.
type DialFunction func(network string, address string, configuration *ssh.ClientConfig) (*ssh.Client, error)

// SSHConfiguration controls how the transport authenticates and verifies hosts.
type SSHConfiguration struct {
	IdentityFiles         []string
	KnownHostsFiles       []string
	StrictHostKeyChecking bool
	ConnectTimeout        time.Duration
	ForwardAgent          bool
	AgentSocketPath       string
	Dial                  DialFunction
}

type pooledClient struct {
	mutex           sync.Mutex
	client          *ssh.Client
	agentForwarding bool
}

// SSHTransport keeps one SSH client per endpoint for the lifetime of a run and opens a session per command.
type SSHTransport struct {
	configuration   SSHConfiguration
	logger          *zap.Logger
	authMethods     []ssh.AuthMethod
	hostKeyCallback ssh.HostKeyCallback
	agentClient     agent.ExtendedAgent
	agentConnection net.Conn

	mutex   sync.Mutex
	clients map[string]*pooledClient
}

// NewSSHTransport prepares authentication (agent first, then identity files) and host key verification.
func NewSSHTransport(logger *zap.Logger, configuration SSHConfiguration) (*SSHTransport, error) {
	if logger == nil {
		return nil, ErrTransportLoggerNotConfigured
	}
	if configuration.ConnectTimeout <= 0 {
		configuration.ConnectTimeout = defaultConnectTimeoutConstant
	}
	if configuration.Dial == nil {
		configuration.Dial = ssh.Dial
	}

	transport := &SSHTransport{
		configuration: configuration,
		logger:        logger,
		clients:       make(map[string]*pooledClient),
	}

	hostKeyCallback, hostKeyError := buildHostKeyCallback(configuration)
	if hostKeyError != nil {
		return nil, hostKeyError
	}
	transport.hostKeyCallback = hostKeyCallback

	socketPath := strings.TrimSpace(configuration.AgentSocketPath)
	if len(socketPath) > 0 {
		agentConnection, agentDialError := net.Dial(agentSocketNetworkConstant, socketPath)
		if agentDialError != nil {
			logger.Debug(sshAgentUnavailableMessageConstant, zap.Error(agentDialError))
		} else {
			transport.agentConnection = agentConnection
			transport.agentClient = agent.NewClient(agentConnection)
			transport.authMethods = append(transport.authMethods, ssh.PublicKeysCallback(transport.agentClient.Signers))
		}
	}

	signers := loadIdentitySigners(logger, configuration.IdentityFiles)
	if len(signers) > 0 {
		transport.authMethods = append(transport.authMethods, ssh.PublicKeys(signers...))
	}

	return transport, nil
}

// Execute runs the request in a fresh session on the pooled client for endpoint.
// Cancelling executionContext closes the session.
func (transport *SSHTransport) Execute(executionContext context.Context, endpoint Endpoint, request CommandRequest) (CommandResult, error) {
	client, clientError := transport.client(endpoint)
	if clientError != nil {
		return CommandResult{}, clientError
	}

	session, sessionError := client.NewSession()
	if sessionError != nil {
		return CommandResult{}, fmt.Errorf(sessionOpenErrorTemplateConstant, endpoint.Label, sessionError)
	}
	defer session.Close()

	if transport.configuration.ForwardAgent && transport.agentClient != nil {
		if forwardingError := agent.RequestAgentForwarding(session); forwardingError != nil {
			return CommandResult{}, fmt.Errorf(agentForwardingErrorTemplateConstant, endpoint.Label, forwardingError)
		}
	}

	if request.RequestPTY {
		terminalModes := ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if terminalError := session.RequestPty(pseudoTerminalTypeConstant, pseudoTerminalHeightConstant, pseudoTerminalWidthConstant, terminalModes); terminalError != nil {
			return CommandResult{}, fmt.Errorf(pseudoTerminalErrorTemplateConstant, endpoint.Label, terminalError)
		}
	}

	var standardOutput bytes.Buffer
	var standardError bytes.Buffer
	session.Stdout = teeWriter(&standardOutput, request.OutputWriter)
	session.Stderr = teeWriter(&standardError, request.OutputWriter)
	if len(request.StandardInput) > 0 {
		session.Stdin = bytes.NewReader(request.StandardInput)
	}

	completion := make(chan error, 1)
	go func() {
		completion <- session.Run(request.Script)
	}()

	var runError error
	select {
	case <-executionContext.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		return CommandResult{}, executionContext.Err()
	case runError = <-completion:
	}

	result := CommandResult{
		StandardOutput: standardOutput.String(),
		StandardError:  standardError.String(),
	}
	if runError == nil {
		return result, nil
	}

	var exitError *ssh.ExitError
	if errors.As(runError, &exitError) {
		result.ExitCode = exitError.ExitStatus()
		return result, nil
	}
	var exitMissingError *ssh.ExitMissingError
	if errors.As(runError, &exitMissingError) {
		return result, fmt.Errorf(exitStatusMissingErrorTemplateConstant, endpoint.Label, runError)
	}
	return result, runError
}

// Close disconnects every pooled client and the agent socket.
func (transport *SSHTransport) Close() error {
	transport.mutex.Lock()
	defer transport.mutex.Unlock()

	var closeErrors []error
	for key, entry := range transport.clients {
		entry.mutex.Lock()
		if entry.client != nil {
			if closeError := entry.client.Close(); closeError != nil && !errors.Is(closeError, net.ErrClosed) {
				closeErrors = append(closeErrors, closeError)
			}
			entry.client = nil
		}
		entry.mutex.Unlock()
		delete(transport.clients, key)
	}
	if transport.agentConnection != nil {
		if closeError := transport.agentConnection.Close(); closeError != nil {
			closeErrors = append(closeErrors, closeError)
		}
		transport.agentConnection = nil
	}
	return errors.Join(closeErrors...)
}

func (transport *SSHTransport) client(endpoint Endpoint) (*ssh.Client, error) {
	poolKey := endpoint.PoolKey()

	transport.mutex.Lock()
	entry, exists := transport.clients[poolKey]
	if !exists {
		entry = &pooledClient{}
		transport.clients[poolKey] = entry
	}
	transport.mutex.Unlock()

	entry.mutex.Lock()
	defer entry.mutex.Unlock()
	if entry.client != nil {
		return entry.client, nil
	}

	transport.logger.Debug(sshConnectMessageConstant,
		zap.String(hostFieldNameConstant, endpoint.DialAddress()),
		zap.String(userFieldNameConstant, endpoint.User),
	)

	clientConfiguration := &ssh.ClientConfig{
		User:            endpoint.User,
		Auth:            transport.authMethods,
		HostKeyCallback: transport.hostKeyCallback,
		Timeout:         transport.configuration.ConnectTimeout,
	}
	client, dialError := transport.configuration.Dial(tcpNetworkConstant, endpoint.DialAddress(), clientConfiguration)
	if dialError != nil {
		return nil, ConnectionError{Host: endpoint.Label, Cause: dialError}
	}

	if transport.configuration.ForwardAgent && transport.agentClient != nil && !entry.agentForwarding {
		if forwardError := agent.ForwardToAgent(client, transport.agentClient); forwardError != nil {
			_ = client.Close()
			return nil, ConnectionError{Host: endpoint.Label, Cause: forwardError}
		}
		entry.agentForwarding = true
	}

	entry.client = client
	return client, nil
}

func buildHostKeyCallback(configuration SSHConfiguration) (ssh.HostKeyCallback, error) {
	if !configuration.StrictHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	existingFiles := make([]string, 0, len(configuration.KnownHostsFiles))
	for _, knownHostsFile := range configuration.KnownHostsFiles {
		expandedPath := expandHomeDirectory(knownHostsFile)
		if _, statError := os.Stat(expandedPath); statError == nil {
			existingFiles = append(existingFiles, expandedPath)
		}
	}
	if len(existingFiles) == 0 {
		return nil, ErrKnownHostsRequired
	}
	return knownhosts.New(existingFiles...)
}

func loadIdentitySigners(logger *zap.Logger, identityFiles []string) []ssh.Signer {
	signers := make([]ssh.Signer, 0, len(identityFiles))
	for _, identityFile := range identityFiles {
		expandedPath := expandHomeDirectory(identityFile)
		if len(expandedPath) == 0 {
			continue
		}
		keyContent, readError := os.ReadFile(expandedPath)
		if readError != nil {
			logger.Debug(sshIdentitySkippedMessageConstant, zap.String(identityFileFieldNameConstant, expandedPath), zap.Error(readError))
			continue
		}
		signer, parseError := ssh.ParsePrivateKey(keyContent)
		if parseError != nil {
			logger.Debug(sshIdentitySkippedMessageConstant, zap.String(identityFileFieldNameConstant, expandedPath), zap.Error(parseError))
			continue
		}
		signers = append(signers, signer)
	}
	return signers
}

func expandHomeDirectory(path string) string {
	trimmedPath := strings.TrimSpace(path)
	if !strings.HasPrefix(trimmedPath, homeDirectoryPrefixConstant) {
		return trimmedPath
	}
	homeDirectory, homeError := os.UserHomeDir()
	if homeError != nil {
		return trimmedPath
	}
	return filepath.Join(homeDirectory, strings.TrimPrefix(trimmedPath, homeDirectoryPrefixConstant))
}

func teeWriter(buffer *bytes.Buffer, output io.Writer) io.Writer {
	if output == nil {
		return buffer
	}
	return io.MultiWriter(buffer, output)
}
