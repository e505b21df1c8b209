package rendezvous

import (
	"context"
	"testing"

	"github.com/a7maadf/anonnet/pkg/cell"
)

type capturingLink struct {
	received []*cell.Cell
}

func (l *capturingLink) SendCell(ctx context.Context, c *cell.Cell) error {
	l.received = append(l.received, c)
	return nil
}

func TestSplicerForwardsBothDirections(t *testing.T) {
	s := NewSplicer()
	clientLink := &capturingLink{}
	serviceLink := &capturingLink{}
	s.Splice(&SpliceResult{ClientCircuitID: 10, ServiceCircuitID: 20}, clientLink, serviceLink)

	if err := s.Forward(context.Background(), 10, &cell.Cell{CircID: 10, Command: cell.CmdRelay, Payload: []byte("to service")}); err != nil {
		t.Fatalf("Forward client->service: %v", err)
	}
	if len(serviceLink.received) != 1 || serviceLink.received[0].CircID != 20 {
		t.Fatalf("expected the service link to receive one cell rewritten to circuit 20, got %+v", serviceLink.received)
	}

	if err := s.Forward(context.Background(), 20, &cell.Cell{CircID: 20, Command: cell.CmdRelay, Payload: []byte("to client")}); err != nil {
		t.Fatalf("Forward service->client: %v", err)
	}
	if len(clientLink.received) != 1 || clientLink.received[0].CircID != 10 {
		t.Fatalf("expected the client link to receive one cell rewritten to circuit 10, got %+v", clientLink.received)
	}
}

func TestForwardUnknownCircuitErrors(t *testing.T) {
	s := NewSplicer()
	if err := s.Forward(context.Background(), 99, &cell.Cell{}); err == nil {
		t.Error("expected an error forwarding on an unspliced circuit")
	}
}

func TestUnspliceRemovesBothLegs(t *testing.T) {
	s := NewSplicer()
	clientLink := &capturingLink{}
	serviceLink := &capturingLink{}
	s.Splice(&SpliceResult{ClientCircuitID: 1, ServiceCircuitID: 2}, clientLink, serviceLink)

	s.Unsplice(1)
	if err := s.Forward(context.Background(), 2, &cell.Cell{}); err == nil {
		t.Error("expected the peer leg to be removed too after Unsplice")
	}
}
