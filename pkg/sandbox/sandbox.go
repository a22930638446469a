// Package sandbox implements the execution host (C5): the ABI a guest
// invocation uses to read/write namespaced storage, run range scans, issue
// recursive chain queries, and call cryptographic primitives, with every
// call metered against a shared gas.Meter.
package sandbox

import (
	"context"
	"log"

	"github.com/certen/chaincore/pkg/buffer"
	"github.com/certen/chaincore/pkg/gas"
)

// Order selects scan direction, matching db_scan's `order` parameter.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Store is the minimal read/write surface a Sandbox is layered over: a
// buffer.Buffer (or anything satisfying the same shape), scoped already to
// a single invocation's lifetime.
type Store interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte)
	Delete(key []byte)
	Iterator(start, end []byte, reverse bool) (buffer.Iterator, error)
}

// Querier answers a recursive query_chain call at the given recursion
// depth, implemented by the query router (C9).
type Querier interface {
	Query(ctx context.Context, request []byte, depth int) ([]byte, error)
}

// Sandbox is the environment a single guest invocation runs in: namespaced
// storage, a shared gas meter, a read-only flag, and the iterator set
// opened by this invocation.
type Sandbox struct {
	store         Store
	namespace     []byte
	querier       Querier
	meter         *gas.Meter
	costs         GasCosts
	mutable       bool
	queryDepth    int
	maxQueryDepth int
	logger        *log.Logger

	iterators  map[int]buffer.Iterator
	nextIterID int
}

// Config gathers a Sandbox's construction parameters, mirroring the
// Environment the original host builds per guest invocation (§4.5).
type Config struct {
	Store         Store
	Namespace     []byte
	Querier       Querier
	Meter         *gas.Meter
	Costs         GasCosts
	Mutable       bool
	QueryDepth    int
	MaxQueryDepth int
	Logger        *log.Logger
}

// New constructs a Sandbox for a single guest invocation.
func New(cfg Config) *Sandbox {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[sandbox] ", log.LstdFlags)
	}
	return &Sandbox{
		store:         cfg.Store,
		namespace:     cfg.Namespace,
		querier:       cfg.Querier,
		meter:         cfg.Meter,
		costs:         cfg.Costs,
		mutable:       cfg.Mutable,
		queryDepth:    cfg.QueryDepth,
		maxQueryDepth: cfg.MaxQueryDepth,
		logger:        logger,
		iterators:     make(map[int]buffer.Iterator),
	}
}

func (s *Sandbox) nsKey(key []byte) []byte {
	out := make([]byte, 0, len(s.namespace)+len(key))
	out = append(out, s.namespace...)
	out = append(out, key...)
	return out
}

// nsUpperBound returns the exclusive end of the whole namespace's key
// range, so an unbounded scan/remove_range still can't read or touch keys
// belonging to a different namespace. Returns nil (truly unbounded) only
// if the namespace is empty or all 0xff.
func (s *Sandbox) nsUpperBound() []byte {
	out := append([]byte{}, s.namespace...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// DBRead returns the value stored at key, or ok=false if absent.
func (s *Sandbox) DBRead(key []byte) (value []byte, ok bool, err error) {
	v, err := s.store.Get(s.nsKey(key))
	if err == buffer.ErrNotFound {
		return nil, false, s.meter.Consume(s.costs.DBRead.Cost(0), "db_read/not_found")
	}
	if err != nil {
		return nil, false, err
	}
	if gasErr := s.meter.Consume(s.costs.DBRead.Cost(len(v)), "db_read/found"); gasErr != nil {
		return nil, false, gasErr
	}
	return v, true, nil
}

// DBScan opens a new iterator over [min, max) in the given order, scoped to
// this invocation, and returns its ID.
func (s *Sandbox) DBScan(min, max []byte, order Order) (int, error) {
	if err := s.meter.Consume(s.costs.DBScan, "db_scan"); err != nil {
		return 0, err
	}
	start := s.nsKey(min)
	end := s.nsUpperBound()
	if max != nil {
		end = s.nsKey(max)
	}
	it, err := s.store.Iterator(start, end, order == Descending)
	if err != nil {
		return 0, err
	}
	s.nextIterID++
	id := s.nextIterID
	s.iterators[id] = it
	return id, nil
}

func (s *Sandbox) iterator(id int) (buffer.Iterator, error) {
	it, ok := s.iterators[id]
	if !ok {
		return nil, ErrUnknownIterator
	}
	return it, nil
}

func (s *Sandbox) stripNamespace(key []byte) []byte {
	return key[len(s.namespace):]
}

// DBNext advances iterator id, returning its current (key, value) and
// whether one was available, then advancing past it.
func (s *Sandbox) DBNext(id int) (key, value []byte, ok bool, err error) {
	it, err := s.iterator(id)
	if err != nil {
		return nil, nil, false, err
	}
	if !it.Valid() {
		return nil, nil, false, s.meter.Consume(s.costs.DBNext, "db_next/not_found")
	}
	key = s.stripNamespace(it.Key())
	value = it.Value()
	it.Next()
	cost := s.costs.DBNext + s.costs.DBRead.Cost(len(key)+len(value))
	return key, value, true, s.meter.Consume(cost, "db_next/found")
}

// DBNextKey is DBNext without the value payload.
func (s *Sandbox) DBNextKey(id int) (key []byte, ok bool, err error) {
	it, err := s.iterator(id)
	if err != nil {
		return nil, false, err
	}
	if !it.Valid() {
		return nil, false, s.meter.Consume(s.costs.DBNext, "db_next_key/not_found")
	}
	key = s.stripNamespace(it.Key())
	it.Next()
	return key, true, s.meter.Consume(s.costs.DBNext+s.costs.DBRead.Cost(len(key)), "db_next_key/found")
}

// DBNextValue is DBNext without the key.
func (s *Sandbox) DBNextValue(id int) (value []byte, ok bool, err error) {
	it, err := s.iterator(id)
	if err != nil {
		return nil, false, err
	}
	if !it.Valid() {
		return nil, false, s.meter.Consume(s.costs.DBNext, "db_next_value/not_found")
	}
	value = it.Value()
	it.Next()
	return value, true, s.meter.Consume(s.costs.DBNext+s.costs.DBRead.Cost(len(value)), "db_next_value/found")
}

// clearIterators drops every iterator opened by this invocation: any
// successful mutation invalidates them, since an active iterator is an
// outstanding view of an ordering the mutation may have just changed.
func (s *Sandbox) clearIterators() {
	for _, it := range s.iterators {
		it.Close()
	}
	s.iterators = make(map[int]buffer.Iterator)
}

// DBWrite inserts or overwrites key. Fails immediately if the sandbox is
// read-only.
func (s *Sandbox) DBWrite(key, value []byte) error {
	if !s.mutable {
		return ErrReadOnly
	}
	cost := s.costs.DBWrite.Cost(len(s.namespace) + len(key) + len(value))
	if err := s.meter.Consume(cost, "db_write"); err != nil {
		return err
	}
	s.store.Set(s.nsKey(key), value)
	s.clearIterators()
	return nil
}

// DBRemove deletes key. Fails immediately if the sandbox is read-only.
func (s *Sandbox) DBRemove(key []byte) error {
	if !s.mutable {
		return ErrReadOnly
	}
	if err := s.meter.Consume(s.costs.DBRemove, "db_remove"); err != nil {
		return err
	}
	s.store.Delete(s.nsKey(key))
	s.clearIterators()
	return nil
}

// DBRemoveRange deletes every key in [min, max). Fails immediately if the
// sandbox is read-only.
func (s *Sandbox) DBRemoveRange(min, max []byte) error {
	if !s.mutable {
		return ErrReadOnly
	}
	if err := s.meter.Consume(s.costs.DBRemove, "db_remove_range"); err != nil {
		return err
	}
	start := s.nsKey(min)
	end := s.nsUpperBound()
	if max != nil {
		end = s.nsKey(max)
	}
	it, err := s.store.Iterator(start, end, false)
	if err != nil {
		return err
	}
	defer it.Close()
	var keys [][]byte
	for ; it.Valid(); it.Next() {
		keys = append(keys, append([]byte{}, it.Key()...))
	}
	for _, k := range keys {
		s.store.Delete(k)
	}
	s.clearIterators()
	return nil
}

// Debug emits a trace event attributed to addr.
func (s *Sandbox) Debug(addr []byte, msg string) error {
	if err := s.meter.Consume(s.costs.Debug, "debug"); err != nil {
		return err
	}
	s.logger.Printf("contract=%x msg=%q", addr, msg)
	return nil
}

// QueryChain performs a new read-only query at one recursion level deeper
// than this invocation, rejecting runaway recursion.
func (s *Sandbox) QueryChain(ctx context.Context, request []byte) ([]byte, error) {
	if err := s.meter.Consume(s.costs.QueryChain, "query_chain"); err != nil {
		return nil, err
	}
	if s.queryDepth+1 > s.maxQueryDepth {
		return nil, ErrQueryDepthExceeded
	}
	return s.querier.Query(ctx, request, s.queryDepth+1)
}
