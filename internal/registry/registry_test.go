package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeParticipant struct {
	id      ID
	sent    [][]byte
	failNow bool
}

func newFakeParticipant() *fakeParticipant {
	return &fakeParticipant{id: NewID()}
}

func (f *fakeParticipant) ID() ID { return f.id }

func (f *fakeParticipant) Send(frame []byte) error {
	if f.failNow {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, frame)
	return nil
}

func TestAddAndSendToTrader(t *testing.T) {
	r := New()
	p := newFakeParticipant()
	r.AddTrader(p)

	r.SendToTrader(p.id, []byte("hello"))
	require.Len(t, p.sent, 1)
	assert.Equal(t, []byte("hello"), p.sent[0])
}

func TestSendToUnknownTraderIsNoop(t *testing.T) {
	r := New()
	assert.NotPanics(t, func() { r.SendToTrader(NewID(), []byte("x")) })
}

func TestFailedDeliveryEvictsTrader(t *testing.T) {
	r := New()
	p := newFakeParticipant()
	p.failNow = true
	r.AddTrader(p)

	r.SendToTrader(p.id, []byte("x"))

	_, ok := r.Trader(p.id)
	assert.False(t, ok)
}

func TestRemoveTraderUnknownIsNoop(t *testing.T) {
	r := New()
	assert.NotPanics(t, func() { r.RemoveTrader(NewID()) })
}

func TestObserverLifecycle(t *testing.T) {
	r := New()
	p := newFakeParticipant()
	r.AddObserver(p)

	r.SendToObserver(p.id, []byte("depth"))
	require.Len(t, p.sent, 1)

	r.RemoveObserver(p.id)
	r.SendToObserver(p.id, []byte("ignored"))
	assert.Len(t, p.sent, 1)
}

func TestTraderAndObserverSetsAreIndependent(t *testing.T) {
	r := New()
	p := newFakeParticipant()
	r.AddTrader(p)

	r.SendToObserver(p.id, []byte("x"))
	assert.Len(t, p.sent, 0)
}
