package eventfd_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/govmm/superio/device"
	"github.com/govmm/superio/eventfd"
)

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	evt, err := eventfd.New(eventfd.NonBlock)
	require.NoError(t, err)

	defer evt.Close()

	require.NoError(t, evt.Write(3))
	require.NoError(t, evt.Write(4))

	v, err := evt.Read()
	require.NoError(t, err)
	require.Equal(t, uint64(7), v)
}

func TestReadEmptyNonBlock(t *testing.T) {
	t.Parallel()

	evt, err := eventfd.New(eventfd.NonBlock)
	require.NoError(t, err)

	defer evt.Close()

	_, err = evt.Read()
	require.ErrorIs(t, err, unix.EAGAIN)
}

func TestTrigger(t *testing.T) {
	t.Parallel()

	evt, err := eventfd.New(eventfd.NonBlock)
	require.NoError(t, err)

	defer evt.Close()

	// *EventFd doubles as the notification sink devices expect.
	var trg device.Trigger = evt

	require.NoError(t, trg.Trigger())
	require.NoError(t, trg.Trigger())

	v, err := evt.Read()
	require.NoError(t, err)
	require.Equal(t, uint64(2), v)
}

func TestClone(t *testing.T) {
	t.Parallel()

	evt, err := eventfd.New(eventfd.NonBlock)
	require.NoError(t, err)

	defer evt.Close()

	dup, err := evt.Clone()
	require.NoError(t, err)

	defer dup.Close()

	require.NotEqual(t, evt.Fd(), dup.Fd())

	// Both descriptors share one counter.
	require.NoError(t, dup.Write(1))

	v, err := evt.Read()
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)
}
