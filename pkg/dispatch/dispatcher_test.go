package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/certen/chaincore/pkg/buffer"
	"github.com/certen/chaincore/pkg/gas"
	"github.com/certen/chaincore/pkg/sandbox"
	"github.com/certen/chaincore/pkg/xmath"
)

var (
	ownerAddr = Address{1}
	bankHash  = [32]byte{0xb0}
	bankAddr  = Address{0xba}
	userAddr  = Address{2}
)

// stubBank is a minimal native bank module recording transfers in-memory,
// standing in for the bundled bank guest module §4.6 delegates to.
type stubBank struct {
	NoopModule
	balances map[Address]Coins
}

func newStubBank() *stubBank { return &stubBank{balances: make(map[Address]Coins)} }

func (b *stubBank) BankExecute(env *Env, msg Message) (*Response, error) {
	if msg.Kind != KindTransfer {
		return nil, ErrInvalidMessage
	}
	b.balances[msg.To] = append(b.balances[msg.To], msg.Coins...)
	return &Response{Attrs: map[string]string{"amount": msg.Coins.AmountOf("ucoin").BigInt().String()}}, nil
}

// stubCounter is a trivial guest module implementing instantiate/execute/
// migrate/receive, tracking a count attribute.
type stubCounter struct {
	NoopModule
	receiveCalls int
}

func (c *stubCounter) Instantiate(env *Env, msg []byte) (*Response, error) {
	return &Response{Attrs: map[string]string{"instantiated": "true"}}, nil
}

func (c *stubCounter) Execute(env *Env, msg []byte) (*Response, error) {
	if string(msg) == "fail" {
		return nil, errSimulated
	}
	return &Response{Attrs: map[string]string{"executed": "true"}}, nil
}

func (c *stubCounter) Migrate(env *Env, msg []byte) (*Response, error) {
	return &Response{Attrs: map[string]string{"migrated": "true"}}, nil
}

func (c *stubCounter) Receive(env *Env) (*Response, error) {
	c.receiveCalls++
	return &Response{Attrs: map[string]string{"received": "true"}}, nil
}

var errSimulated = errSimulatedErr{}

type errSimulatedErr struct{}

func (errSimulatedErr) Error() string { return "simulated guest failure" }

func newTestDispatcher(t *testing.T, bank *stubBank, counterHash [32]byte, counter *stubCounter) (*Dispatcher, *buffer.Buffer) {
	t.Helper()
	buf := buffer.New(nil)
	state := NewState(buf)

	registry := NewRegistry()
	registry.Register(bankHash, bank)
	if counter != nil {
		registry.Register(counterHash, counter)
	}

	require.NoError(t, state.PutContract(bankAddr, &ContractRecord{CodeHash: bankHash}))
	require.NoError(t, state.PutConfig(&Config{
		Owner:                 ownerAddr,
		UploadPermission:      Permission{Everyone: true},
		InstantiatePermission: Permission{Everyone: true},
		Bank:                  bankAddr,
	}))

	d := New(DispatcherConfig{
		Buf:           buf,
		Registry:      registry,
		Querier:       nil,
		Costs:         DefaultCosts(),
		GasCosts:      sandbox.DefaultGasCosts(),
		MaxQueryDepth: 10,
	})
	return d, buf
}

func TestConfigureRequiresOwner(t *testing.T) {
	d, _ := newTestDispatcher(t, newStubBank(), [32]byte{}, nil)
	meter := gas.New(gas.Unlimited)
	newOwner := Address{9}

	ev := d.Dispatch(context.Background(), userAddr, Message{Kind: KindConfigure, NewOwner: &newOwner}, meter)
	require.Equal(t, EventFailed, ev.Status)

	ev = d.Dispatch(context.Background(), ownerAddr, Message{Kind: KindConfigure, NewOwner: &newOwner}, meter)
	require.Equal(t, EventOK, ev.Status)

	cfg, err := d.State().GetConfig()
	require.NoError(t, err)
	require.Equal(t, newOwner, cfg.Owner)
}

func TestConfigureRebuildsCronScheduleOnChange(t *testing.T) {
	d, _ := newTestDispatcher(t, newStubBank(), [32]byte{}, nil)
	meter := gas.New(gas.Unlimited)
	contract := Address{7}

	ev := d.Dispatch(context.Background(), ownerAddr, Message{
		Kind:        KindConfigure,
		NewCronJobs: map[Address]int64{contract: 1000},
	}, meter)
	require.Equal(t, EventOK, ev.Status)

	entries, err := d.State().AllCronEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, contract, entries[0].Contract)
	require.Equal(t, int64(1000), entries[0].DueNanos)
}

func TestUploadThenInstantiateThenExecute(t *testing.T) {
	bank := newStubBank()
	counter := &stubCounter{}
	codeBytes := []byte("counter-v1")
	codeHash := hashCode(codeBytes)

	d, _ := newTestDispatcher(t, bank, codeHash, counter)
	meter := gas.New(gas.Unlimited)

	ev := d.Dispatch(context.Background(), userAddr, Message{Kind: KindUpload, Code: codeBytes}, meter)
	require.Equal(t, EventOK, ev.Status)

	rec, err := d.State().GetCode(codeHash)
	require.NoError(t, err)
	require.Equal(t, CodeOrphaned, rec.Status)

	addr := DeriveAddress(userAddr, codeHash, []byte("salt1"))
	ev = d.Dispatch(context.Background(), userAddr, Message{
		Kind:     KindInstantiate,
		CodeHash: codeHash,
		Salt:     []byte("salt1"),
		Coins:    Coins{{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(5)}},
		Label:    "my-counter",
	}, meter)
	require.Equal(t, EventOK, ev.Status)

	rec, err = d.State().GetCode(codeHash)
	require.NoError(t, err)
	require.Equal(t, CodeInUse, rec.Status)
	require.Equal(t, uint64(1), rec.UsageCount)

	contract, err := d.State().GetContract(addr)
	require.NoError(t, err)
	require.Equal(t, codeHash, contract.CodeHash)
	require.Equal(t, Coins{{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(5)}}, bank.balances[addr])

	ev = d.Dispatch(context.Background(), userAddr, Message{Kind: KindExecute, Contract: addr, Msg: []byte("ok")}, meter)
	require.Equal(t, EventOK, ev.Status)

	ev = d.Dispatch(context.Background(), userAddr, Message{Kind: KindExecute, Contract: addr, Msg: []byte("fail")}, meter)
	require.Equal(t, EventFailed, ev.Status)
}

func TestInstantiateRejectsAddressCollision(t *testing.T) {
	bank := newStubBank()
	counter := &stubCounter{}
	codeBytes := []byte("counter-v1")
	codeHash := hashCode(codeBytes)
	d, _ := newTestDispatcher(t, bank, codeHash, counter)
	meter := gas.New(gas.Unlimited)

	require.NoError(t, d.State().PutCode(codeHash, &CodeRecord{Bytecode: codeBytes, Status: CodeOrphaned}))

	msg := Message{Kind: KindInstantiate, CodeHash: codeHash, Salt: []byte("salt")}
	ev := d.Dispatch(context.Background(), userAddr, msg, meter)
	require.Equal(t, EventOK, ev.Status)

	ev = d.Dispatch(context.Background(), userAddr, msg, meter)
	require.Equal(t, EventFailed, ev.Status)
}

func TestTransferInvokesReceiveOnRecipient(t *testing.T) {
	bank := newStubBank()
	counter := &stubCounter{}
	codeHash := [32]byte{0xc0}
	d, _ := newTestDispatcher(t, bank, codeHash, counter)
	meter := gas.New(gas.Unlimited)

	recipient := Address{5}
	require.NoError(t, d.State().PutContract(recipient, &ContractRecord{CodeHash: codeHash}))

	ev := d.Dispatch(context.Background(), userAddr, Message{
		Kind:  KindTransfer,
		To:    recipient,
		Coins: Coins{{Denom: "ucoin", Amount: xmath.NewUint128FromUint64(1)}},
	}, meter)
	require.Equal(t, EventOK, ev.Status)
	require.Equal(t, 1, counter.receiveCalls)
}

func TestMigrateRequiresAdmin(t *testing.T) {
	bank := newStubBank()
	counter := &stubCounter{}
	oldHash := [32]byte{0xc1}
	newHash := [32]byte{0xc2}
	d, _ := newTestDispatcher(t, bank, newHash, counter)
	meter := gas.New(gas.Unlimited)

	require.NoError(t, d.State().PutCode(oldHash, &CodeRecord{Status: CodeInUse, UsageCount: 1}))
	require.NoError(t, d.State().PutCode(newHash, &CodeRecord{Status: CodeOrphaned}))

	admin := Address{3}
	contractAddr := Address{4}
	require.NoError(t, d.State().PutContract(contractAddr, &ContractRecord{CodeHash: oldHash, Admin: &admin}))

	ev := d.Dispatch(context.Background(), userAddr, Message{Kind: KindMigrate, Contract: contractAddr, NewCodeHash: newHash}, meter)
	require.Equal(t, EventFailed, ev.Status)

	ev = d.Dispatch(context.Background(), admin, Message{Kind: KindMigrate, Contract: contractAddr, NewCodeHash: newHash}, meter)
	require.Equal(t, EventOK, ev.Status)

	updated, err := d.State().GetContract(contractAddr)
	require.NoError(t, err)
	require.Equal(t, newHash, updated.CodeHash)

	oldRec, err := d.State().GetCode(oldHash)
	require.NoError(t, err)
	require.Equal(t, CodeOrphaned, oldRec.Status)
	require.Equal(t, uint64(0), oldRec.UsageCount)
}

func TestFailedDispatchDiscardsWrites(t *testing.T) {
	bank := newStubBank()
	codeHash := [32]byte{0xd0}
	counter := &stubCounter{}
	d, _ := newTestDispatcher(t, bank, codeHash, counter)
	meter := gas.New(gas.Unlimited)

	contractAddr := Address{6}
	require.NoError(t, d.State().PutContract(contractAddr, &ContractRecord{CodeHash: codeHash}))

	ev := d.Dispatch(context.Background(), userAddr, Message{Kind: KindExecute, Contract: contractAddr, Msg: []byte("fail")}, meter)
	require.Equal(t, EventFailed, ev.Status)

	// The config record was never touched by the failing Execute, so a
	// root-level read still sees exactly the config this dispatcher's
	// underlying buffer started with (no stray partial writes leaked).
	cfg, err := d.State().GetConfig()
	require.NoError(t, err)
	require.Equal(t, ownerAddr, cfg.Owner)
}

// replyParent issues one sub-message per Execute call — the request names
// the policy and the inner payload as "<policy>:<inner>" — and records
// every reply callback it receives.
type replyParent struct {
	NoopModule
	failReply bool
	replies   []*SubMsgResult
	payloads  [][]byte
}

func (p *replyParent) Execute(env *Env, msg []byte) (*Response, error) {
	policy := map[byte]ReplyOn{
		'N': ReplyNever, 'S': ReplyOnSuccess, 'E': ReplyOnError, 'A': ReplyAlways,
	}[msg[0]]
	return &Response{SubMessages: []SubMessage{{
		Msg:     Message{Kind: KindExecute, Contract: writerAddr, Msg: msg[2:]},
		ReplyOn: policy,
		Payload: []byte("corr-1"),
	}}}, nil
}

func (p *replyParent) Reply(env *Env, payload []byte, result *SubMsgResult) (*Response, error) {
	if p.failReply {
		return nil, errSimulated
	}
	p.replies = append(p.replies, result)
	p.payloads = append(p.payloads, payload)
	return &Response{Attrs: map[string]string{"handled": "true"}}, nil
}

// replyWriter stores a probe value, then fails when asked to, so a caught
// failure's rollback is observable.
type replyWriter struct {
	NoopModule
}

func (replyWriter) Execute(env *Env, msg []byte) (*Response, error) {
	if err := env.Sandbox.DBWrite([]byte("probe"), msg); err != nil {
		return nil, err
	}
	if string(msg) == "fail" {
		return nil, errSimulated
	}
	return &Response{}, nil
}

var (
	parentHash = [32]byte{0xaa}
	writerHash = [32]byte{0xbb}
	parentAddr = Address{0xaa}
	writerAddr = Address{0xbb}
)

func newReplyDispatcher(t *testing.T, parent *replyParent) (*Dispatcher, *buffer.Buffer) {
	t.Helper()
	buf := buffer.New(nil)
	state := NewState(buf)

	registry := NewRegistry()
	registry.Register(parentHash, parent)
	registry.Register(writerHash, replyWriter{})

	require.NoError(t, state.PutContract(parentAddr, &ContractRecord{CodeHash: parentHash}))
	require.NoError(t, state.PutContract(writerAddr, &ContractRecord{CodeHash: writerHash}))
	require.NoError(t, state.PutConfig(&Config{Owner: ownerAddr}))

	d := New(DispatcherConfig{
		Buf:           buf,
		Registry:      registry,
		Costs:         DefaultCosts(),
		GasCosts:      sandbox.DefaultGasCosts(),
		MaxQueryDepth: 10,
	})
	return d, buf
}

func TestSubMessageReplyPolicies(t *testing.T) {
	probeKey := append(append([]byte{}, writerAddr[:]...), "probe"...)

	cases := []struct {
		name        string
		msg         string
		wantOK      bool
		wantReplies int
		wantCaught  bool // a failed sub-message swallowed by the policy
	}{
		{"never/ok", "N:ok", true, 0, false},
		{"never/fail propagates", "N:fail", false, 0, false},
		{"on_success/ok replies", "S:ok", true, 1, false},
		{"on_success/fail propagates", "S:fail", false, 0, false},
		{"on_error/ok silent", "E:ok", true, 0, false},
		{"on_error/fail caught", "E:fail", true, 1, true},
		{"always/ok replies", "A:ok", true, 1, false},
		{"always/fail caught", "A:fail", true, 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parent := &replyParent{}
			d, buf := newReplyDispatcher(t, parent)
			meter := gas.New(gas.Unlimited)

			ev := d.Dispatch(context.Background(), userAddr,
				Message{Kind: KindExecute, Contract: parentAddr, Msg: []byte(tc.msg)}, meter)
			if tc.wantOK {
				require.Equal(t, EventOK, ev.Status)
			} else {
				require.Equal(t, EventFailed, ev.Status)
			}

			require.Len(t, parent.replies, tc.wantReplies)
			if tc.wantReplies > 0 {
				require.Equal(t, []byte("corr-1"), parent.payloads[0])
				require.Equal(t, !tc.wantCaught, parent.replies[0].Success)
				if tc.wantCaught {
					require.NotEmpty(t, parent.replies[0].Error)
				}
			}

			// A failed sub-message's writes are discarded even when the
			// reply policy caught the failure; a successful one's persist.
			if tc.wantOK && !tc.wantCaught && tc.msg[2:] == "ok" {
				probe, err := buf.Get(probeKey)
				require.NoError(t, err)
				require.Equal(t, []byte("ok"), probe)
			} else {
				_, err := buf.Get(probeKey)
				require.ErrorIs(t, err, buffer.ErrNotFound)
			}
		})
	}
}

func TestFailingReplyAbortsDispatch(t *testing.T) {
	parent := &replyParent{failReply: true}
	d, buf := newReplyDispatcher(t, parent)
	meter := gas.New(gas.Unlimited)

	ev := d.Dispatch(context.Background(), userAddr,
		Message{Kind: KindExecute, Contract: parentAddr, Msg: []byte("A:ok")}, meter)
	require.Equal(t, EventFailed, ev.Status)

	// The reply failure rolls back the whole dispatch, the successful
	// sub-message's write included.
	probeKey := append(append([]byte{}, writerAddr[:]...), "probe"...)
	_, err := buf.Get(probeKey)
	require.ErrorIs(t, err, buffer.ErrNotFound)
}

func TestEventDigestIsDeterministic(t *testing.T) {
	ev := NewEvent("execute").WithAttr("contract", "abc")
	child := NewEvent("bank_execute").WithAttr("amount", "5")
	ev.AddChild(child)

	d1, err := ev.Digest()
	require.NoError(t, err)
	d2, err := ev.Digest()
	require.NoError(t, err)
	require.Equal(t, d1, d2)

	ev2 := NewEvent("execute").WithAttr("contract", "abc")
	ev2.AddChild(NewEvent("bank_execute").WithAttr("amount", "6"))
	d3, err := ev2.Digest()
	require.NoError(t, err)
	require.NotEqual(t, d1, d3)
}
