package publish

import (
	"fmt"

	client "github.com/influxdata/influxdb1-client/v2"
)

// Transactional publishes each sample as a one-point batch through the HTTP
// write endpoint and waits for the store to accept or reject it.
type Transactional struct {
	target Target
	client client.Client
}

// NewTransactional builds the HTTP client. It does not contact the store, so
// a store that is down at startup surfaces as per-sample publish errors.
func NewTransactional(t Target) (*Transactional, error) {
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:      fmt.Sprintf("http://%s", t.Address()),
		Username:  t.Username,
		Password:  t.Password,
		Timeout:   t.Timeout,
		UserAgent: "deflection",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create http client for %s: %w", t.Address(), err)
	}
	return newTransactional(t, c), nil
}

func newTransactional(t Target, c client.Client) *Transactional {
	return &Transactional{target: t, client: c}
}

func (p *Transactional) Publish(s Sample) error {
	bp, err := newBatch(p.target, p.target.Database, s)
	if err != nil {
		return &PublishError{Transport: TransportHTTP, Err: err}
	}
	if err := p.client.Write(bp); err != nil {
		return &PublishError{Transport: TransportHTTP, Err: fmt.Errorf("write to database %q: %w", p.target.Database, err)}
	}
	return nil
}

func (p *Transactional) Close() error {
	return p.client.Close()
}

func (p *Transactional) Transport() string { return TransportHTTP }

func (p *Transactional) String() string {
	return fmt.Sprintf("http://%s/write?db=%s", p.target.Address(), p.target.Database)
}
