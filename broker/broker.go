package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	DefaultMaxChannels    = 16
	DefaultMaxSubscribers = 8
	DefaultMaxPayload     = 256
	DefaultISRReserve     = 8
	DefaultEventPoolSize  = DefaultMaxChannels*DefaultMaxSubscribers + DefaultISRReserve
	DefaultTimeout        = 100 * time.Millisecond
)

var (
	ErrInvalidParam       = errors.New("broker: invalid parameter")
	ErrChannelNotFound    = errors.New("broker: channel not found")
	ErrDuplicateChannel   = errors.New("broker: channel already registered")
	ErrChannelFull        = errors.New("broker: channel table full")
	ErrSubscriberFull     = errors.New("broker: subscriber table full")
	ErrSubscriberNotFound = errors.New("broker: subscriber not found")
	ErrHasSubscribers     = errors.New("broker: channel has subscribers")
	ErrPayloadTooLarge    = errors.New("broker: payload too large")
	ErrPoolExhausted      = errors.New("broker: event pool exhausted")
)

type Config struct {
	MaxChannels    int
	MaxSubscribers int           // Per channel
	EventPoolSize  int           // General slots must cover one event per subscriber of every channel
	MaxPayload     int           // Bytes per event
	ISRReserve     int           // Slots only PublishFromISR may use
	DefaultTimeout time.Duration // Wait policy timeout when a channel sets none
}

func DefaultConfig() Config {
	return Config{
		MaxChannels:    DefaultMaxChannels,
		MaxSubscribers: DefaultMaxSubscribers,
		EventPoolSize:  DefaultEventPoolSize,
		MaxPayload:     DefaultMaxPayload,
		ISRReserve:     DefaultISRReserve,
		DefaultTimeout: DefaultTimeout,
	}
}

func (c Config) Validate() error {
	if c.MaxChannels <= 0 || c.MaxSubscribers <= 0 || c.MaxPayload <= 0 {
		return fmt.Errorf("%w: channel, subscriber and payload limits must be positive", ErrInvalidParam)
	}
	if c.ISRReserve < 0 {
		return fmt.Errorf("%w: negative isr reserve %d", ErrInvalidParam, c.ISRReserve)
	}
	if c.EventPoolSize-c.ISRReserve < c.MaxChannels*c.MaxSubscribers {
		return fmt.Errorf("%w: event pool %d less isr reserve %d smaller than %d channels x %d subscribers",
			ErrInvalidParam, c.EventPoolSize, c.ISRReserve, c.MaxChannels, c.MaxSubscribers)
	}
	if c.DefaultTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidParam)
	}
	return nil
}

type Policy int

const (
	DropNewest Policy = iota
	DropOldest
	NoDrop
	Wait
)

func (p Policy) String() string {
	switch p {
	case DropNewest:
		return "drop_newest"
	case DropOldest:
		return "drop_oldest"
	case NoDrop:
		return "no_drop"
	case Wait:
		return "wait"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

func ParsePolicy(s string) (Policy, error) {
	for p := DropNewest; p <= Wait; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown policy %q", ErrInvalidParam, s)
}

type ChannelConfig struct {
	Policy  Policy
	Timeout time.Duration // Used by NoDrop and Wait; zero means the bus default
}

type subscriber struct {
	queue *Queue
	stats SubscriberStats
}

type channel struct {
	id     uint16
	name   string
	config ChannelConfig
	subs   []*subscriber
}

// Bus is a fixed-capacity publish/subscribe fan-out. One Bus is built at
// startup and passed to whoever needs it.
type Bus struct {
	cfg  Config
	pool *pool

	mu       sync.RWMutex
	channels map[uint16]*channel

	statsMu sync.Mutex // Guards every SubscriberStats
}

type ChannelInfo struct {
	ID          uint16        `json:"id"`
	Name        string        `json:"name"`
	Policy      string        `json:"policy"`
	Timeout     time.Duration `json:"timeout"`
	Subscribers int           `json:"subscribers"`
}

func NewBus(cfg Config) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Bus{
		cfg:      cfg,
		pool:     newPool(cfg.EventPoolSize, cfg.ISRReserve, cfg.MaxPayload),
		channels: make(map[uint16]*channel),
	}, nil
}

func (b *Bus) Config() Config {
	return b.cfg
}

func (b *Bus) RegisterChannel(id uint16, name string, cc ChannelConfig) error {
	if id == 0 || cc.Policy < DropNewest || cc.Policy > Wait || cc.Timeout < 0 {
		return ErrInvalidParam
	}
	if cc.Timeout == 0 {
		cc.Timeout = b.cfg.DefaultTimeout
	}

	b.mu.Lock()
	if _, ok := b.channels[id]; ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrDuplicateChannel, id)
	}
	if len(b.channels) >= b.cfg.MaxChannels {
		b.mu.Unlock()
		return ErrChannelFull
	}
	b.channels[id] = &channel{id: id, name: name, config: cc}
	b.mu.Unlock()

	// Logged outside the lock: a LogHandler may publish on this bus.
	slog.Debug("Registered bus channel", "id", id, "name", name, "policy", cc.Policy.String())
	return nil
}

func (b *Bus) UnregisterChannel(id uint16) error {
	b.mu.Lock()
	ch, ok := b.channels[id]
	if !ok {
		b.mu.Unlock()
		return ErrChannelNotFound
	}
	if len(ch.subs) > 0 {
		b.mu.Unlock()
		return ErrHasSubscribers
	}
	delete(b.channels, id)
	b.mu.Unlock()

	slog.Debug("Unregistered bus channel", "id", id, "name", ch.name)
	return nil
}

// Subscribe attaches q to the channel. Subscribing a queue that is already
// attached succeeds without adding it twice.
func (b *Bus) Subscribe(id uint16, q *Queue) error {
	if q == nil {
		return ErrInvalidParam
	}
	if err := b.subscribe(id, q); err != nil {
		return err
	}
	slog.Debug("Subscribed", "channel", id, "queue", q.ID())
	return nil
}

func (b *Bus) subscribe(id uint16, q *Queue) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[id]
	if !ok {
		return ErrChannelNotFound
	}
	for _, s := range ch.subs {
		if s.queue == q {
			return nil
		}
	}
	if len(ch.subs) >= b.cfg.MaxSubscribers {
		return ErrSubscriberFull
	}
	ch.subs = append(ch.subs, &subscriber{queue: q})
	return nil
}

func (b *Bus) Unsubscribe(id uint16, q *Queue) error {
	if err := b.unsubscribe(id, q); err != nil {
		return err
	}
	slog.Debug("Unsubscribed", "channel", id, "queue", q.ID())
	return nil
}

func (b *Bus) unsubscribe(id uint16, q *Queue) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[id]
	if !ok {
		return ErrChannelNotFound
	}
	for i, s := range ch.subs {
		if s.queue == q {
			// Copy so publishers holding the old slice are unaffected.
			subs := make([]*subscriber, 0, len(ch.subs)-1)
			subs = append(subs, ch.subs[:i]...)
			ch.subs = append(subs, ch.subs[i+1:]...)
			return nil
		}
	}
	return ErrSubscriberNotFound
}

func (b *Bus) Channels() []ChannelInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	infos := make([]ChannelInfo, 0, len(b.channels))
	for _, ch := range b.channels {
		infos = append(infos, ch.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (b *Bus) Channel(id uint16) (ChannelInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.channels[id]
	if !ok {
		return ChannelInfo{}, ErrChannelNotFound
	}
	return ch.info(), nil
}

func (b *Bus) ChannelByName(name string) (ChannelInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.channels {
		if ch.name == name {
			return ch.info(), nil
		}
	}
	return ChannelInfo{}, fmt.Errorf("%w: %s", ErrChannelNotFound, name)
}

func (ch *channel) info() ChannelInfo {
	return ChannelInfo{
		ID:          ch.id,
		Name:        ch.name,
		Policy:      ch.config.Policy.String(),
		Timeout:     ch.config.Timeout,
		Subscribers: len(ch.subs),
	}
}
