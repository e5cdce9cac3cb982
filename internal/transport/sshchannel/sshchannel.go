// Package sshchannel implements internal/transport.Channel over an SSH
// session, for a remote repository or PGDATA host. It authenticates with
// golang.org/x/crypto/ssh and multiplexes newline-delimited JSON lines
// (no length prefix) over a single ssh.Session's stdin/stdout. Every request additionally carries
// a short-lived capability token signed with github.com/golang-jwt/jwt/v5
// (HS256 over a pre-shared stanza secret) so a transport compromise can't
// replay a request against a different stanza or repo than the one it
// was issued for — grounded on the teacher's use of golang-jwt/jwt for
// signed license tokens in cli/license/license.go, repurposed here from
// license tokens to transport capability tokens.
package sshchannel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/ssh"

	"pig/internal/transport"
	"pig/internal/xerr"
)

// Capability is the claim set embedded in every request's token.
type Capability struct {
	Stanza string `json:"stanza"`
	Repo   string `json:"repo"`
	jwt.RegisteredClaims
}

// TokenIssuer mints short-lived capability tokens scoped to one
// stanza/repo pair.
type TokenIssuer struct {
	Secret []byte
	TTL    time.Duration
}

func (t *TokenIssuer) Issue(stanza, repo string) (string, error) {
	now := time.Now()
	claims := Capability{
		Stanza: stanza,
		Repo:   repo,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.TTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(t.Secret)
	if err != nil {
		return "", xerr.Wrap(xerr.Crypto, err, "sign transport capability token")
	}
	return signed, nil
}

// Verify checks a token's signature and that its claims match the
// expected stanza/repo, returning Protocol on any mismatch.
func (t *TokenIssuer) Verify(token, wantStanza, wantRepo string) error {
	claims := &Capability{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return xerr.Wrap(xerr.Protocol, err, "invalid transport capability token")
	}
	if claims.Stanza != wantStanza || claims.Repo != wantRepo {
		return xerr.New(xerr.Protocol, "capability token scoped to a different stanza/repo")
	}
	return nil
}

// Channel speaks transport.Request/Response over an SSH session's
// stdin/stdout, one JSON document per line.
type Channel struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	issuer  *TokenIssuer
	stanza  string
	repo    string
}

// Dial opens an SSH connection to addr and starts the remote agent
// command, returning a Channel ready to exchange frames.
func Dial(addr string, config *ssh.ClientConfig, remoteCommand string, issuer *TokenIssuer, stanza, repo string) (*Channel, error) {
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, xerr.Wrap(xerr.HostConnect, err, "dial %s", addr)
	}
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, xerr.Wrap(xerr.HostConnect, err, "open ssh session to %s", addr)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, xerr.Wrap(xerr.HostConnect, err, "open stdin pipe")
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, xerr.Wrap(xerr.HostConnect, err, "open stdout pipe")
	}
	if err := session.Start(remoteCommand); err != nil {
		session.Close()
		client.Close()
		return nil, xerr.Wrap(xerr.HostConnect, err, "start remote agent %q", remoteCommand)
	}
	return &Channel{
		client: client, session: session, stdin: stdin,
		stdout: bufio.NewReader(stdout), issuer: issuer, stanza: stanza, repo: repo,
	}, nil
}

// envelope carries the token alongside the plain request, one JSON line
// per round trip.
type envelope struct {
	Token   string            `json:"token"`
	Request transport.Request `json:"request"`
}

func (c *Channel) Send(req transport.Request) (transport.Response, error) {
	token, err := c.issuer.Issue(c.stanza, c.repo)
	if err != nil {
		return transport.Response{}, err
	}
	line, err := json.Marshal(envelope{Token: token, Request: req})
	if err != nil {
		return transport.Response{}, xerr.Wrap(xerr.Protocol, err, "encode request frame")
	}
	if _, err := fmt.Fprintf(c.stdin, "%s\n", line); err != nil {
		return transport.Response{}, xerr.Wrap(xerr.Protocol, err, "write request frame")
	}
	replyLine, err := c.stdout.ReadString('\n')
	if err != nil {
		return transport.Response{}, xerr.Wrap(xerr.Protocol, err, "read response frame")
	}
	var resp transport.Response
	if err := json.Unmarshal([]byte(replyLine), &resp); err != nil {
		return transport.Response{}, xerr.Wrap(xerr.Protocol, err, "decode response frame")
	}
	return resp, nil
}

func (c *Channel) Close() error {
	c.session.Close()
	return c.client.Close()
}
