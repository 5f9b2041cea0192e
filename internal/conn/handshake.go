package conn

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/valkey-io/valkey-glide-sub003/internal/resp"
)

// ProtocolVersion selects RESP2 or RESP3 for the HELLO handshake.
type ProtocolVersion int

const (
	RESP2 ProtocolVersion = 2
	RESP3 ProtocolVersion = 3
)

// HandshakeConfig carries everything Handshake needs to bring a freshly
// Dialed Connection up to StateReady (spec.md §4.2).
type HandshakeConfig struct {
	Protocol   ProtocolVersion
	Username   string // "default" when empty and a password is set
	Password   string // empty when credentials are IAM or absent
	ClientName string
	DBIndex    int // standalone only; 0 means "don't SELECT"
	ReadOnly   bool

	// Resubscribe replays subscriptions held before a reconnect, in
	// (command, channel) pairs, e.g. ("SUBSCRIBE", "news").
	Resubscribe []ResubscribeEntry
}

type ResubscribeEntry struct {
	Command string // SUBSCRIBE | PSUBSCRIBE | SSUBSCRIBE
	Channel string
}

// Handshake executes the fixed sequence from spec.md §4.2: HELLO (with
// AUTH folded in when credentials are present), a RESP2 AUTH fallback
// when HELLO is rejected, CLIENT SETNAME, SELECT, READONLY, then
// replaying any held subscriptions. Any failure leaves the connection
// Closed, matching "any handshake failure transitions to Closed and
// triggers reconnect".
func (c *Connection) Handshake(ctx context.Context, cfg HandshakeConfig) error {
	c.setState(StateHandshaking)

	negotiatedRESP3, err := c.hello(ctx, cfg)
	if err != nil {
		c.fail(errors.Wrap(err, "conn: handshake failed"))
		return err
	}
	c.decoder.RESP3 = negotiatedRESP3

	if cfg.ClientName != "" {
		if _, err := c.sendSimple(ctx, "CLIENT", "SETNAME", cfg.ClientName); err != nil {
			c.fail(errors.Wrap(err, "conn: CLIENT SETNAME failed"))
			return err
		}
	}
	if cfg.DBIndex != 0 {
		if _, err := c.sendSimple(ctx, "SELECT", fmt.Sprint(cfg.DBIndex)); err != nil {
			c.fail(errors.Wrap(err, "conn: SELECT failed"))
			return err
		}
	}
	if cfg.ReadOnly {
		if _, err := c.sendSimple(ctx, "READONLY"); err != nil {
			c.fail(errors.Wrap(err, "conn: READONLY failed"))
			return err
		}
	}
	for _, sub := range cfg.Resubscribe {
		if _, err := c.sendSimple(ctx, sub.Command, sub.Channel); err != nil {
			c.fail(errors.Wrap(err, "conn: resubscribe failed"))
			return err
		}
	}

	c.setState(StateReady)
	level.Info(c.logger).Log("msg", "connection ready", "resp3", negotiatedRESP3)
	return nil
}

// hello performs step 1-2 of the handshake: try HELLO at the configured
// protocol (folding AUTH into its arguments when credentials exist); if
// that is rejected and RESP2 was requested, fall back to a plain AUTH
// call with no protocol upgrade. Returns whether RESP3 was negotiated.
func (c *Connection) hello(ctx context.Context, cfg HandshakeConfig) (bool, error) {
	args := []string{"HELLO", fmt.Sprint(int(cfg.Protocol))}
	if cfg.Password != "" {
		user := cfg.Username
		if user == "" {
			user = "default"
		}
		args = append(args, "AUTH", user, cfg.Password)
	}

	_, err := c.sendSimple(ctx, args...)
	if err == nil {
		return cfg.Protocol == RESP3, nil
	}
	if cfg.Protocol != RESP2 {
		// Only a RESP2 request falls back to AUTH/SELECT below; a rejected
		// HELLO for any other protocol is returned as-is.
		return false, err
	}

	if cfg.Password != "" {
		user := cfg.Username
		if user == "" {
			user = "default"
		}
		authArgs := []string{"AUTH"}
		if user != "default" {
			authArgs = append(authArgs, user)
		}
		authArgs = append(authArgs, cfg.Password)
		if _, authErr := c.sendSimple(ctx, authArgs...); authErr != nil {
			return false, authErr
		}
	}
	return false, nil
}

// sendSimple sends a handshake command and turns a RESP error reply into
// a Go error, unlike the raw Send/Sender contract the request pipeline
// uses (which needs redirect error replies passed through as values).
func (c *Connection) sendSimple(ctx context.Context, args ...string) (resp.Value, error) {
	frame := resp.EncodeStrings(args...)
	reply, err := c.Send(ctx, frame)
	if err != nil {
		return resp.Value{}, err
	}
	if reply.IsError() {
		return resp.Value{}, fmt.Errorf("conn: %s", reply.Str)
	}
	return reply, nil
}
