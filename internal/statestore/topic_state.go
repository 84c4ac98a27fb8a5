package statestore

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"mybot/internal/model"
)

const topicStateVersion = 1

// ThreadState is the per-(chat,thread) binding original_source's
// topic_state.py calls _ThreadState: the run context bound to the thread,
// its default engine override, a title (forum topics only), and the last
// known resume token per engine.
type ThreadState struct {
	Context       model.RunContext `json:"context,omitempty"`
	TopicTitle    string           `json:"topic_title,omitempty"`
	DefaultEngine string           `json:"default_engine,omitempty"`
	Sessions      map[string]string `json:"sessions,omitempty"` // engine -> resume token value
}

// topicDoc is the on-disk document for all chats: their threads keyed by
// "<chat_id>:<thread_id>" (thread_id 0 for the chat's General/root topic).
type topicDoc struct {
	Version int                    `json:"version"`
	Threads map[string]*ThreadState `json:"threads"`
}

func (d topicDoc) StateVersion() int { return d.Version }

func newTopicDoc() topicDoc {
	return topicDoc{Version: topicStateVersion, Threads: make(map[string]*ThreadState)}
}

// TopicStateStore ports TopicStateStore from
// original_source/src/takopi/telegram/topic_state.py: bindings between a
// forum topic (or a plain chat, thread_id 0) and the run context/session
// resume tokens active there.
type TopicStateStore struct {
	store *Store[topicDoc]
	mu    sync.Mutex
}

func NewTopicStateStore(path string, logger *slog.Logger) *TopicStateStore {
	return &TopicStateStore{store: New(path, topicStateVersion, newTopicDoc, logger)}
}

func threadKey(chatID int64, threadID int) string {
	return fmt.Sprintf("%d:%d", chatID, threadID)
}

func parseThreadKey(key string) (chatID int64, threadID int, ok bool) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	c, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	t, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return c, t, true
}

// GetThread returns a copy of the thread's state, or the zero value if
// unknown.
func (s *TopicStateStore) GetThread(chatID int64, threadID int) ThreadState {
	var out ThreadState
	s.store.View(func(doc topicDoc) {
		if t, ok := doc.Threads[threadKey(chatID, threadID)]; ok {
			out = *t
		}
	})
	if out.Sessions == nil {
		out.Sessions = make(map[string]string)
	}
	return out
}

func (s *TopicStateStore) ensure(doc *topicDoc, key string) *ThreadState {
	t, ok := doc.Threads[key]
	if !ok {
		t = &ThreadState{Sessions: make(map[string]string)}
		doc.Threads[key] = t
	}
	if t.Sessions == nil {
		t.Sessions = make(map[string]string)
	}
	return t
}

// GetContext returns the run context bound to the thread.
func (s *TopicStateStore) GetContext(chatID int64, threadID int) model.RunContext {
	return s.GetThread(chatID, threadID).Context
}

// SetContext binds a run context to the thread, creating it if absent.
func (s *TopicStateStore) SetContext(chatID int64, threadID int, ctx model.RunContext) error {
	key := threadKey(chatID, threadID)
	return s.store.Mutate(func(doc *topicDoc) {
		t := s.ensure(doc, key)
		t.Context = ctx
	})
}

// ClearContext removes the bound run context, keeping sessions/title.
func (s *TopicStateStore) ClearContext(chatID int64, threadID int) error {
	key := threadKey(chatID, threadID)
	return s.store.Mutate(func(doc *topicDoc) {
		if t, ok := doc.Threads[key]; ok {
			t.Context = model.RunContext{}
		}
	})
}

// GetSessionResume returns the last known resume token value for the given
// engine bound to this thread, or "" if none.
func (s *TopicStateStore) GetSessionResume(chatID int64, threadID int, engineID string) string {
	return s.GetThread(chatID, threadID).Sessions[engineID]
}

// SetSessionResume records the resume token for an engine on this thread.
func (s *TopicStateStore) SetSessionResume(chatID int64, threadID int, engineID, value string) error {
	key := threadKey(chatID, threadID)
	return s.store.Mutate(func(doc *topicDoc) {
		t := s.ensure(doc, key)
		t.Sessions[engineID] = value
	})
}

// ClearSessions drops all resume tokens bound to the thread (e.g. on /new).
func (s *TopicStateStore) ClearSessions(chatID int64, threadID int) error {
	key := threadKey(chatID, threadID)
	return s.store.Mutate(func(doc *topicDoc) {
		if t, ok := doc.Threads[key]; ok {
			t.Sessions = make(map[string]string)
		}
	})
}

// GetDefaultEngine returns the thread's bound default engine, or "" if
// unset (caller falls back to the orchestrator's global default).
func (s *TopicStateStore) GetDefaultEngine(chatID int64, threadID int) string {
	return s.GetThread(chatID, threadID).DefaultEngine
}

func (s *TopicStateStore) SetDefaultEngine(chatID int64, threadID int, engineID string) error {
	key := threadKey(chatID, threadID)
	return s.store.Mutate(func(doc *topicDoc) {
		t := s.ensure(doc, key)
		t.DefaultEngine = engineID
	})
}

func (s *TopicStateStore) ClearDefaultEngine(chatID int64, threadID int) error {
	key := threadKey(chatID, threadID)
	return s.store.Mutate(func(doc *topicDoc) {
		if t, ok := doc.Threads[key]; ok {
			t.DefaultEngine = ""
		}
	})
}

// SetTopicTitle records the forum topic's display title.
func (s *TopicStateStore) SetTopicTitle(chatID int64, threadID int, title string) error {
	key := threadKey(chatID, threadID)
	return s.store.Mutate(func(doc *topicDoc) {
		t := s.ensure(doc, key)
		t.TopicTitle = title
	})
}

// DeleteThread forgets a thread entirely (the topic itself was deleted).
func (s *TopicStateStore) DeleteThread(chatID int64, threadID int) error {
	key := threadKey(chatID, threadID)
	return s.store.Mutate(func(doc *topicDoc) {
		delete(doc.Threads, key)
	})
}

// FindThreadForContext scans threads in the chat for one already bound to
// the given context, ported from find_thread_for_context. Nothing in this
// module calls it yet; RunScheduler always dispatches into thread 0.
func (s *TopicStateStore) FindThreadForContext(chatID int64, ctx model.RunContext) (threadID int, ok bool) {
	s.store.View(func(doc topicDoc) {
		for key, t := range doc.Threads {
			kChat, kThread, perr := parseThreadKey(key)
			if !perr || kChat != chatID {
				continue
			}
			if t.Context == ctx {
				threadID, ok = kThread, true
				return
			}
		}
	})
	return threadID, ok
}
