package services

import (
	"github.com/mbocsi/ipcpipe/broker"
)

// BusServiceImpl implements BusService
type BusServiceImpl struct {
	bus *broker.Bus
}

// NewBusService creates a new bus service
func NewBusService(bus *broker.Bus) BusService {
	return &BusServiceImpl{bus: bus}
}

// ListChannels returns every registered channel with its counters
func (bs *BusServiceImpl) ListChannels() ([]ChannelInfo, error) {
	channels := bs.bus.Channels()
	result := make([]ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		info, err := bs.withStats(ch)
		if err != nil {
			// Unregistered in between
			continue
		}
		result = append(result, info)
	}
	return result, nil
}

// GetChannel returns one channel by id or name
func (bs *BusServiceImpl) GetChannel(ref string) (*ChannelInfo, error) {
	ch, err := bs.lookup(ref)
	if err != nil {
		return nil, err
	}
	info, err := bs.withStats(ch)
	if err != nil {
		return nil, toServiceError(err, "Failed to read channel stats")
	}
	return &info, nil
}

func (bs *BusServiceImpl) PoolStats() (broker.PoolStats, error) {
	return bs.bus.PoolStats(), nil
}

// Subscribe attaches a new queue to the channel. The caller owns the
// queue and must Unsubscribe it.
func (bs *BusServiceImpl) Subscribe(ref string, capacity int) (*broker.Queue, uint16, error) {
	ch, err := bs.lookup(ref)
	if err != nil {
		return nil, 0, err
	}
	q := broker.NewQueue(capacity)
	if err := bs.bus.Subscribe(ch.ID, q); err != nil {
		return nil, 0, toServiceError(err, "Failed to subscribe to "+ch.Name)
	}
	return q, ch.ID, nil
}

// Unsubscribe detaches q and releases whatever it still holds
func (bs *BusServiceImpl) Unsubscribe(id uint16, q *broker.Queue) error {
	if err := bs.bus.Unsubscribe(id, q); err != nil {
		return toServiceError(err, "Failed to unsubscribe")
	}
	q.Drain()
	return nil
}

func (bs *BusServiceImpl) lookup(ref string) (broker.ChannelInfo, error) {
	if err := validateRef(ref); err != nil {
		return broker.ChannelInfo{}, err
	}
	var (
		ch  broker.ChannelInfo
		err error
	)
	if id, ok := parseChannelRef(ref); ok {
		ch, err = bs.bus.Channel(id)
	} else {
		ch, err = bs.bus.ChannelByName(ref)
	}
	if err != nil {
		return broker.ChannelInfo{}, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "Channel not found: " + ref,
			Cause:   err,
		}
	}
	return ch, nil
}

func (bs *BusServiceImpl) withStats(ch broker.ChannelInfo) (ChannelInfo, error) {
	st, err := bs.bus.ChannelStats(ch.ID)
	if err != nil {
		return ChannelInfo{}, err
	}
	return ChannelInfo{
		ChannelInfo: ch,
		Delivered:   st.Delivered,
		Dropped:     st.Dropped,
		LastDrop:    st.LastDrop,
	}, nil
}
