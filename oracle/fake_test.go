package oracle

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"alkahest/contracts"
)

var (
	testOracle = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testEscrow = common.HexToHash("0xe5c0")
)

// fakeChain stands in for the arbiter, EAS and the node. Arbitrate calls are
// recorded as ArbitrationMade events so IsArbitrated sees them.
type fakeChain struct {
	mu sync.Mutex

	requests     []RequestEvent
	attestations map[common.Hash]contracts.Attestation
	made         []contracts.ArbitrationMade

	pastErr   error
	fetchErr  error
	submitErr error
	indexErr  error

	submitted    []submission
	streams      []*fakeStream[RequestEvent]
	madeStreams  []*fakeStream[contracts.ArbitrationMade]
	subscribed   chan struct{}
	subscribeErr error
}

type submission struct {
	uid      common.Hash
	demand   []byte
	decision bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		attestations: make(map[common.Hash]contracts.Attestation),
		subscribed:   make(chan struct{}),
	}
}

// fulfill registers an active fulfillment of item and the request for it.
func (c *fakeChain) fulfill(uid common.Hash, item string, block uint64) RequestEvent {
	data, err := contracts.EncodeStringObligation(contracts.StringObligationData{Item: item})
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attestations[uid] = contracts.Attestation{UID: uid, RefUID: testEscrow, Data: data}
	event := RequestEvent{
		FulfillmentUID: uid,
		Oracle:         testOracle,
		Demand:         []byte("demand-" + item),
		BlockNumber:    block,
		TxHash:         crypto.Keccak256Hash(uid.Bytes()),
	}
	c.requests = append(c.requests, event)
	return event
}

func (c *fakeChain) FetchPast(_ context.Context, oracle common.Address, fromBlock uint64) ([]RequestEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pastErr != nil {
		return nil, c.pastErr
	}
	var out []RequestEvent
	for _, ev := range c.requests {
		if ev.Oracle == oracle && ev.BlockNumber >= fromBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *fakeChain) Subscribe(context.Context, common.Address) (Stream[RequestEvent], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	stream := newFakeStream[RequestEvent]()
	c.streams = append(c.streams, stream)
	if len(c.streams) == 1 {
		close(c.subscribed)
	}
	return stream, nil
}

// emit delivers a live request to every open subscription.
func (c *fakeChain) emit(event RequestEvent) {
	c.mu.Lock()
	streams := append([]*fakeStream[RequestEvent](nil), c.streams...)
	c.mu.Unlock()
	for _, s := range streams {
		s.events <- event
	}
}

func (c *fakeChain) GetAttestation(_ context.Context, uid common.Hash) (contracts.Attestation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchErr != nil {
		return contracts.Attestation{}, c.fetchErr
	}
	att, ok := c.attestations[uid]
	if !ok {
		return contracts.Attestation{}, ErrAttestationNotFound
	}
	return att, nil
}

func (c *fakeChain) IsArbitrated(_ context.Context, uid common.Hash, oracle common.Address) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexErr != nil {
		return false, c.indexErr
	}
	for _, m := range c.made {
		if m.Obligation == uid && m.Oracle == oracle {
			return true, nil
		}
	}
	return false, nil
}

func (c *fakeChain) Arbitrate(ctx context.Context, uid common.Hash, demand []byte, decision bool) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return common.Hash{}, c.submitErr
	}
	c.submitted = append(c.submitted, submission{uid: uid, demand: demand, decision: decision})
	made := contracts.ArbitrationMade{
		DecisionKey: contracts.DecisionKey(uid, demand),
		Obligation:  uid,
		Oracle:      testOracle,
		Decision:    decision,
	}
	c.made = append(c.made, made)
	for _, s := range c.madeStreams {
		s.events <- made
	}
	return crypto.Keccak256Hash(uid.Bytes(), []byte{byte(len(c.submitted))}), nil
}

func (c *fakeChain) RequestArbitration(_ context.Context, uid common.Hash, oracle common.Address, demand []byte) (common.Hash, error) {
	return crypto.Keccak256Hash(uid.Bytes(), oracle.Bytes(), demand), nil
}

func (c *fakeChain) FindArbitrations(_ context.Context, q ArbitrationQuery) ([]contracts.ArbitrationMade, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []contracts.ArbitrationMade
	for _, m := range c.made {
		if q.matches(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *fakeChain) WatchArbitrations(context.Context, ArbitrationQuery) (Stream[contracts.ArbitrationMade], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stream := newFakeStream[contracts.ArbitrationMade]()
	c.madeStreams = append(c.madeStreams, stream)
	return stream, nil
}

func (q ArbitrationQuery) matches(m contracts.ArbitrationMade) bool {
	if m.Obligation != q.Obligation {
		return false
	}
	if q.Oracle != (common.Address{}) && q.Oracle != m.Oracle {
		return false
	}
	if q.Demand != nil && m.DecisionKey != contracts.DecisionKey(q.Obligation, q.Demand) {
		return false
	}
	return true
}

func (c *fakeChain) submissions() []submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]submission(nil), c.submitted...)
}

type fakeStream[T any] struct {
	events chan T
	errs   chan error
	once   sync.Once
	closed chan struct{}
}

func newFakeStream[T any]() *fakeStream[T] {
	return &fakeStream[T]{events: make(chan T, 16), errs: make(chan error, 1), closed: make(chan struct{})}
}

func (s *fakeStream[T]) Events() <-chan T  { return s.events }
func (s *fakeStream[T]) Err() <-chan error { return s.errs }
func (s *fakeStream[T]) Unsubscribe()      { s.once.Do(func() { close(s.closed) }) }

// newTestOracle wires every collaborator to chain.
func newTestOracle(chain *fakeChain, opts ...Option) *Oracle {
	base := []Option{
		WithEventSource(chain),
		WithAttestations(chain),
		WithArbitrationIndex(chain),
		WithSubmitter(chain),
		WithRequester(chain),
		WithWatcher(chain),
	}
	return New(testOracle, append(base, opts...)...)
}

// itemIsGood approves StringObligation fulfillments whose item is "good".
var itemIsGood = TypedDecider[contracts.StringObligationData, []byte](
	contracts.StringObligationCodec{},
	contracts.RawCodec{},
	func(_ context.Context, o contracts.StringObligationData, _ []byte) (bool, error) {
		return o.Item == "good", nil
	},
)

var errBoom = errors.New("boom")
