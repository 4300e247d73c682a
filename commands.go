package memdoc

import (
	"context"
	"strings"

	"github.com/pior/memdoc/binprot"
)

// SASLClientIdentity is the authorization identity sent in the first field of
// the PLAIN credential blob.
const SASLClientIdentity = "memdoc"

// Item is a stored value with its metadata.
type Item struct {
	Key   string
	Value []byte
	Flags uint32

	// Expiration is in seconds, or a unix timestamp when larger than 30 days,
	// as memcached interprets it. Zero means no expiration.
	Expiration uint32

	// CAS is the token returned by the server. On Set and Replace a non-zero
	// CAS makes the write conditional.
	CAS binprot.CAS
}

// Executor sends one request and returns its response.
//
// The response is returned along with the status error when the server
// answered with a non-zero status.
type Executor interface {
	Execute(ctx context.Context, req *binprot.Request) (*binprot.Response, error)
}

// Commands provides one method per protocol command on top of an Executor.
// Both Connection and Client embed it.
type Commands struct {
	executor Executor
}

func NewCommands(executor Executor) *Commands {
	return &Commands{executor: executor}
}

// Get retrieves key. A missing key fails with a RequestError matching
// binprot.StatusKeyNotFound.
func (c *Commands) Get(ctx context.Context, key string) (Item, error) {
	req, err := binprot.NewGetRequest(key)
	if err != nil {
		return Item{}, err
	}

	resp, err := c.executor.Execute(ctx, req)
	if err != nil {
		return Item{}, err
	}

	var extra binprot.GetExtra
	if resp.Extra != nil {
		if extra, err = binprot.DecodeGetExtra(resp.Extra); err != nil {
			return Item{}, err
		}
	}

	return Item{
		Key:   key,
		Value: resp.Value,
		Flags: extra.Flags,
		CAS:   resp.CAS(),
	}, nil
}

// Set stores item unconditionally, or only if item.CAS matches when set.
func (c *Commands) Set(ctx context.Context, item Item) (binprot.CAS, error) {
	return c.store(ctx, binprot.OpSet, item, item.CAS)
}

// Add stores item only if the key does not exist yet.
func (c *Commands) Add(ctx context.Context, item Item) (binprot.CAS, error) {
	return c.store(ctx, binprot.OpAdd, item, binprot.CAS{})
}

// Replace stores item only if the key exists, and only if item.CAS matches
// when set. A CAS mismatch fails with binprot.StatusKeyExists.
func (c *Commands) Replace(ctx context.Context, item Item) (binprot.CAS, error) {
	return c.store(ctx, binprot.OpReplace, item, item.CAS)
}

func (c *Commands) store(ctx context.Context, opcode binprot.Opcode, item Item, cas binprot.CAS) (binprot.CAS, error) {
	req, err := binprot.NewStoreRequest(opcode, item.Key, item.Value, binprot.SetExtra{
		Flags:      item.Flags,
		Expiration: item.Expiration,
	}, cas)
	if err != nil {
		return binprot.CAS{}, err
	}

	resp, err := c.executor.Execute(ctx, req)
	if err != nil {
		return binprot.CAS{}, err
	}

	// Connection already rejects this; other executors may not.
	if resp.CAS().IsZero() {
		return binprot.CAS{}, &binprot.FormatError{Message: "missing CAS in " + opcode.String() + " response"}
	}

	return resp.CAS(), nil
}

// Delete removes key, only if cas matches when non-zero.
func (c *Commands) Delete(ctx context.Context, key string, cas binprot.CAS) error {
	req, err := binprot.NewDeleteRequest(key, cas)
	if err != nil {
		return err
	}

	_, err = c.executor.Execute(ctx, req)
	return err
}

// Touch updates the expiration of key without fetching it.
func (c *Commands) Touch(ctx context.Context, key string, expiration uint32) (binprot.CAS, error) {
	req, err := binprot.NewTouchRequest(key, expiration)
	if err != nil {
		return binprot.CAS{}, err
	}

	resp, err := c.executor.Execute(ctx, req)
	if err != nil {
		return binprot.CAS{}, err
	}
	return resp.CAS(), nil
}

// Noop round-trips an empty request. Used as a health check.
func (c *Commands) Noop(ctx context.Context) error {
	_, err := c.executor.Execute(ctx, binprot.NewNoopRequest())
	return err
}

// Version returns the server version string.
func (c *Commands) Version(ctx context.Context) (string, error) {
	resp, err := c.executor.Execute(ctx, binprot.NewVersionRequest())
	if err != nil {
		return "", err
	}
	return string(resp.Value), nil
}

// SASLListMechanisms returns the mechanisms offered by the server.
func (c *Commands) SASLListMechanisms(ctx context.Context) ([]string, error) {
	resp, err := c.executor.Execute(ctx, binprot.NewSASLListMechsRequest())
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(resp.Value)), nil
}

// SASLPlainAuth authenticates with the PLAIN mechanism. On success the
// following commands sent on the same connection are authenticated.
func (c *Commands) SASLPlainAuth(ctx context.Context, login, password string) error {
	req, err := binprot.NewSASLAuthRequest("PLAIN", plainCredentials(login, password))
	if err != nil {
		return err
	}

	_, err = c.executor.Execute(ctx, req)
	return err
}

func plainCredentials(login, password string) []byte {
	blob := make([]byte, 0, len(SASLClientIdentity)+len(login)+len(password)+2)
	blob = append(blob, SASLClientIdentity...)
	blob = append(blob, 0)
	blob = append(blob, login...)
	blob = append(blob, 0)
	blob = append(blob, password...)
	return blob
}
