package chat

import (
	"math/rand"
	"testing"

	"github.com/suPer8Hu/chatvault/internal/ai"
)

func exchangeWithTokens(id int64, tokens int) Exchange {
	return Exchange{RequestID: id, Prompt: "p", Completion: "c", PromptTokens: tokens / 2, CompletionTokens: tokens - tokens/2}
}

func TestTrim_EvictionBoundAndFIFOSuffix(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		conv := NewConversation(1, "sys")
		n := rng.Intn(12)
		all := make([]Exchange, 0, n)
		for i := 0; i < n; i++ {
			x := exchangeWithTokens(int64(i+1), rng.Intn(1500))
			all = append(all, x)
			conv.AppendExchange(x)
		}
		maximum := 500 + rng.Intn(4000)
		reserve := rng.Intn(600)

		evicted := conv.Trim(maximum, reserve)
		live := conv.Live()

		if evicted+len(live) != n {
			t.Fatalf("iter %d: evicted %d + live %d != %d", iter, evicted, len(live), n)
		}
		if len(live) > 0 && conv.ContextTokenCount()+reserve > maximum {
			t.Fatalf("iter %d: bound violated: %d + %d > %d", iter, conv.ContextTokenCount(), reserve, maximum)
		}
		for i, x := range live {
			if x.RequestID != all[evicted+i].RequestID {
				t.Fatalf("iter %d: live set is not a suffix at %d", iter, i)
			}
		}
		if conv.Len() != n {
			t.Fatalf("iter %d: history changed: %d", iter, conv.Len())
		}
	}
}

func TestTrim_SingleOversizedExchangeEmptiesLiveSet(t *testing.T) {
	conv := NewConversation(1, "")
	conv.AppendExchange(exchangeWithTokens(1, 5000))

	if got := conv.Trim(4097, 410); got != 1 {
		t.Fatalf("evicted = %d, want 1", got)
	}
	if len(conv.Live()) != 0 {
		t.Fatalf("expected empty live set")
	}
	if got := conv.ContextArray(true); len(got) != 1 || got[0].Role != ai.RoleSystem {
		t.Fatalf("context = %+v, want only the system entry", got)
	}
	if len(conv.HistoryArray()) != 1 {
		t.Fatalf("history must keep evicted exchanges")
	}
}

func TestTrim_ReserveAboveMaximumTerminates(t *testing.T) {
	conv := NewConversation(1, "")
	for i := 0; i < 3; i++ {
		conv.AppendExchange(exchangeWithTokens(int64(i+1), 10))
	}
	if got := conv.Trim(100, 200); got != 3 {
		t.Fatalf("evicted = %d, want 3", got)
	}
	if got := conv.Trim(100, 200); got != 0 {
		t.Fatalf("trim on empty live set evicted %d", got)
	}
}

func TestContextArray_Shape(t *testing.T) {
	conv := NewConversation(7, "be brief")
	conv.AppendExchange(Exchange{RequestID: 1, Prompt: "q1", Completion: "a1", PromptTokens: 1, CompletionTokens: 1})
	conv.AppendExchange(Exchange{RequestID: 2, Prompt: "q2", Completion: "a2", PromptTokens: 1, CompletionTokens: 1})

	got := conv.ContextArray(true)
	want := []ai.Message{
		{Role: ai.RoleSystem, Content: "be brief"},
		{Role: ai.RoleUser, Content: "q1"},
		{Role: ai.RoleAssistant, Content: "a1"},
		{Role: ai.RoleUser, Content: "q2"},
		{Role: ai.RoleAssistant, Content: "a2"},
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("msg %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestContextArray_TrimUsesBudget(t *testing.T) {
	conv := NewConversation(1, "")
	for i := 0; i < 4; i++ {
		conv.AppendExchange(exchangeWithTokens(int64(i+1), 100))
	}
	conv.SetBudget(Budget{Maximum: 300, Reserve: 50})

	untrimmed := conv.ContextArray(false)
	if len(untrimmed) != 9 {
		t.Fatalf("untrimmed len = %d", len(untrimmed))
	}
	trimmed := conv.ContextArray(true)
	// 400+50 > 300, 300+50 > 300, 200+50 <= 300
	if len(trimmed) != 5 {
		t.Fatalf("trimmed len = %d, want 5", len(trimmed))
	}
}

func TestSystemTokensCountAgainstBudget(t *testing.T) {
	conv := NewConversation(1, "long system message")
	conv.AppendExchange(exchangeWithTokens(1, 100))
	conv.AppendExchange(exchangeWithTokens(2, 100))

	conv.SetBudget(Budget{Maximum: 250, Reserve: 0})
	if got := conv.Trim(250, 0); got != 0 {
		t.Fatalf("without system tokens evicted %d", got)
	}
	conv.SetBudget(Budget{Maximum: 250, Reserve: 0, SystemTokens: 60})
	if got := conv.Trim(250, 0); got != 1 {
		t.Fatalf("with system tokens evicted %d, want 1", got)
	}
	if conv.ContextTokenCount() != 100 {
		t.Fatalf("ContextTokenCount must exclude the system message, got %d", conv.ContextTokenCount())
	}
}

func TestPreviewContext_DoesNotEvict(t *testing.T) {
	conv := NewConversation(1, "")
	conv.AppendExchange(exchangeWithTokens(1, 300))
	conv.AppendExchange(exchangeWithTokens(2, 300))

	msgs, n := conv.PreviewContext(500, 100)
	if n != 1 || len(msgs) != 3 {
		t.Fatalf("preview evicted=%d msgs=%d", n, len(msgs))
	}
	if len(conv.Live()) != 2 {
		t.Fatalf("preview must not change the live set")
	}
}

func TestResetContext_KeepsHistory(t *testing.T) {
	conv := NewConversation(1, "")
	conv.AppendExchange(exchangeWithTokens(1, 10))
	conv.AppendExchange(exchangeWithTokens(2, 10))
	conv.ResetContext()

	if conv.ContextTokenCount() != 0 {
		t.Fatalf("token count after reset = %d", conv.ContextTokenCount())
	}
	if len(conv.HistoryArray()) != 2 {
		t.Fatalf("history after reset = %d", len(conv.HistoryArray()))
	}

	conv.AppendExchange(exchangeWithTokens(3, 10))
	if live := conv.Live(); len(live) != 1 || live[0].RequestID != 3 {
		t.Fatalf("live after append = %+v", live)
	}
}

func TestCatchUp_SkipsKnownExchanges(t *testing.T) {
	conv := NewConversation(1, "")
	conv.AppendExchange(exchangeWithTokens(1, 2))
	conv.ResetContext()

	added := conv.catchUp(exchangeWithTokens(1, 2), exchangeWithTokens(2, 2), exchangeWithTokens(3, 2))
	if added != 2 || conv.Len() != 3 {
		t.Fatalf("added=%d len=%d", added, conv.Len())
	}
	live := conv.Live()
	if len(live) != 2 || live[0].RequestID != 2 {
		t.Fatalf("live = %+v", live)
	}
	if conv.catchUp(exchangeWithTokens(3, 2)) != 0 {
		t.Fatalf("duplicate appended")
	}
}
