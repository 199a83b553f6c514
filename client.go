package amqp

import "context"

// Client is the top-level handle returned by Dial: one AMQP connection,
// from which sessions (and their links) are opened (spec.md §4 "Client").
type Client struct {
	conn *Conn
}

// NewClient wraps an already-negotiated Conn (e.g. one built by NewConn
// over a custom transport) as a Client.
func NewClient(c *Conn) *Client {
	return &Client{conn: c}
}

// NewSession opens a new session on the client's connection.
func (c *Client) NewSession(ctx context.Context, opts *SessionOptions) (*Session, error) {
	return c.conn.NewSession(ctx, opts)
}

// Close closes the underlying connection, ending every session and link on
// it.
func (c *Client) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// DialAddress connects to the AMQP address addr (amqp://, amqps://, ws://,
// or wss://, optionally carrying userinfo) and returns a ready-to-use
// Client (spec.md §4.3 "Client-facing entry point").
func DialAddress(ctx context.Context, addr string, opts *ConnOptions) (*Client, error) {
	if opts == nil {
		opts = &ConnOptions{}
	}
	if opts.SASLType == nil {
		if u, err := parseUserinfo(addr); err == nil && u != nil {
			if u.password != "" {
				opts.SASLType = ConnSASLPlain(u.username, u.password)
			} else {
				opts.SASLType = ConnSASLAnonymous()
			}
		}
	}
	c, err := Dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	return &Client{conn: c}, nil
}
