package publish

import (
	"fmt"

	client "github.com/influxdata/influxdb1-client/v2"
)

// Datagram publishes each sample as one UDP line-protocol packet without
// waiting for any acknowledgement from the store.
type Datagram struct {
	target Target
	client client.Client
}

// NewDatagram resolves the store address and opens the UDP socket.
func NewDatagram(t Target) (*Datagram, error) {
	c, err := client.NewUDPClient(client.UDPConfig{Addr: t.Address()})
	if err != nil {
		return nil, fmt.Errorf("failed to create udp client for %s: %w", t.Address(), err)
	}
	return newDatagram(t, c), nil
}

func newDatagram(t Target, c client.Client) *Datagram {
	return &Datagram{target: t, client: c}
}

func (d *Datagram) Publish(s Sample) error {
	// The UDP listener on the store side owns the database; the batch carries none.
	bp, err := newBatch(d.target, "", s)
	if err != nil {
		return &PublishError{Transport: TransportUDP, Err: err}
	}
	if err := d.client.Write(bp); err != nil {
		return &PublishError{Transport: TransportUDP, Err: err}
	}
	return nil
}

func (d *Datagram) Close() error {
	return d.client.Close()
}

func (d *Datagram) Transport() string { return TransportUDP }

func (d *Datagram) String() string {
	return fmt.Sprintf("udp://%s", d.target.Address())
}
