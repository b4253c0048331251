// Package remote pulls files off a freshly built VM over a remote shell.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Downloader copies a file from a remote host to the local filesystem.
type Downloader interface {
	Download(ctx context.Context, remotePath, localPath string) error
}

// Veewee's default SSH forward and credentials for VirtualBox builds.
const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 7222
	DefaultUser     = "vagrant"
	DefaultPassword = "vagrant"
)

// Config describes how to reach the build VM.
type Config struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// WithDefaults fills unset fields with veewee's defaults.
func (c Config) WithDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.User == "" {
		c.User = DefaultUser
	}
	if c.Password == "" && c.PrivateKeyPath == "" {
		c.Password = DefaultPassword
	}
	return c
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SSHClient implements Downloader by streaming `cat <path>` over an SSH session.
type SSHClient struct {
	Config Config
	Logger *slog.Logger
}

// NewSSHClient validates cfg and returns a client for it.
func NewSSHClient(cfg Config, logger *slog.Logger) (*SSHClient, error) {
	cfg = cfg.WithDefaults()
	if cfg.PrivateKeyPath != "" {
		if _, err := os.Stat(cfg.PrivateKeyPath); err != nil {
			return nil, fmt.Errorf("unable to read private key: %w", err)
		}
	}
	return &SSHClient{Config: cfg, Logger: logger}, nil
}

func (c *SSHClient) logger() *slog.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *SSHClient) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.Config.PrivateKeyPath != "" {
		key, err := os.ReadFile(c.Config.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Config.Password != "" {
		auth = append(auth, ssh.Password(c.Config.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh authentication method configured")
	}

	return &ssh.ClientConfig{
		User: c.Config.User,
		Auth: auth,
		// build VMs are throwaway and regenerate host keys on every build
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}, nil
}

// Download implements Downloader.
func (c *SSHClient) Download(ctx context.Context, remotePath, localPath string) error {
	config, err := c.clientConfig()
	if err != nil {
		return err
	}

	addr := c.Config.Addr()
	c.logger().Debug("downloading file over ssh", "addr", addr, "remote", remotePath, "local", localPath)

	dialer := net.Dialer{Timeout: config.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to connect to %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		netConn.Close()
		return fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	conn := ssh.NewClient(sshConn, chans, reqs)
	defer runFuncAndLogErr(c.logger(), conn.Close)

	session, err := conn.NewSession()
	if err != nil {
		return fmt.Errorf("unable to create SSH session: %w", err)
	}
	defer runFuncAndLogErr(c.logger(), session.Close)

	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ssh stdout pipe: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	out, err := os.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer out.Close()

	if err := session.Start(catCommand(remotePath)); err != nil {
		return fmt.Errorf("start remote cat: %w", err)
	}
	if _, err := io.Copy(out, stdout); err != nil {
		return fmt.Errorf("copy %s: %w", remotePath, err)
	}
	if err := session.Wait(); err != nil {
		return fmt.Errorf("download %s from %s: %w", remotePath, addr, err)
	}
	return out.Close()
}

// catCommand single-quotes remotePath so the remote shell expands nothing.
func catCommand(remotePath string) string {
	return "cat '" + strings.ReplaceAll(remotePath, "'", `'\''`) + "'"
}

func runFuncAndLogErr(logger *slog.Logger, f func() error) {
	if err := f(); err != nil && !errors.Is(err, io.EOF) {
		logger.Debug("error closing ssh session or connection", "err", err.Error())
	}
}
