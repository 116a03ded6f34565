package chat

// Edge selects which end of a message list a merge targets.
type Edge int

const (
	// EdgeStart prepends, used for older history pages.
	EdgeStart Edge = iota
	// EdgeEnd appends, used for new messages.
	EdgeEnd
)

// Patch is a partial conversation update. Nil fields leave the existing
// value untouched.
type Patch struct {
	Title    *string
	Messages []Message
}

// Cache is the ordered set of conversations shared across the sidebar and
// the conversation view, most-recently-active first. Every operation returns
// a new Cache value; the caller swaps it in whole, which keeps the shared
// state consistent without locking inside the cache itself.
type Cache struct {
	conversations []Conversation
}

// NewCache builds a cache from the given conversations.
func NewCache(convs ...Conversation) Cache {
	return Cache{conversations: append([]Conversation(nil), convs...)}
}

// Len returns the number of conversations.
func (c Cache) Len() int {
	return len(c.conversations)
}

// Conversations returns a copy of the conversation list in cache order.
func (c Cache) Conversations() []Conversation {
	return append([]Conversation(nil), c.conversations...)
}

// Get looks up a conversation by id.
func (c Cache) Get(id string) (Conversation, bool) {
	for _, conv := range c.conversations {
		if conv.ID == id {
			return conv, true
		}
	}
	return Conversation{}, false
}

// Upsert merges patch into the conversation with the given id, or appends a
// new conversation when no entry exists. The cache never holds two
// conversations with the same id.
func (c Cache) Upsert(id string, patch Patch) Cache {
	out := append([]Conversation(nil), c.conversations...)
	for i := range out {
		if out[i].ID != id {
			continue
		}
		if patch.Title != nil {
			out[i].Title = *patch.Title
		}
		if patch.Messages != nil {
			out[i].Messages = append([]Message(nil), patch.Messages...)
		}
		return Cache{conversations: out}
	}
	conv := Conversation{ID: id}
	if patch.Title != nil {
		conv.Title = *patch.Title
	}
	if patch.Messages != nil {
		conv.Messages = append([]Message(nil), patch.Messages...)
	}
	return Cache{conversations: append(out, conv)}
}

// AppendMessages merges msgs into the named conversation at the given edge,
// then deduplicates by message id keeping the first occurrence. Messages
// without ids (optimistic locals) are always kept. The conversation is
// created if absent. Chronological oldest-first order is preserved:
// EdgeStart messages are older, EdgeEnd messages are newer.
func (c Cache) AppendMessages(id string, msgs []Message, edge Edge) Cache {
	conv, ok := c.Get(id)
	if !ok {
		conv = Conversation{ID: id}
	}

	var merged []Message
	if edge == EdgeStart {
		merged = make([]Message, 0, len(msgs)+len(conv.Messages))
		merged = append(merged, msgs...)
		merged = append(merged, conv.Messages...)
	} else {
		merged = make([]Message, 0, len(conv.Messages)+len(msgs))
		merged = append(merged, conv.Messages...)
		merged = append(merged, msgs...)
	}

	seen := make(map[string]struct{}, len(merged))
	deduped := merged[:0]
	for _, m := range merged {
		if m.ID != "" {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		deduped = append(deduped, m)
	}
	conv.Messages = deduped

	return c.Upsert(id, Patch{Messages: conv.Messages})
}

// ContainsMessage reports whether the conversation already holds a message
// with the given id.
func (c Cache) ContainsMessage(convID, msgID string) bool {
	if msgID == "" {
		return false
	}
	conv, ok := c.Get(convID)
	if !ok {
		return false
	}
	for _, m := range conv.Messages {
		if m.ID == msgID {
			return true
		}
	}
	return false
}

// MoveToFront bumps the conversation to the head of the recency order.
func (c Cache) MoveToFront(id string) Cache {
	for i, conv := range c.conversations {
		if conv.ID != id {
			continue
		}
		out := make([]Conversation, 0, len(c.conversations))
		out = append(out, conv)
		out = append(out, c.conversations[:i]...)
		out = append(out, c.conversations[i+1:]...)
		return Cache{conversations: out}
	}
	return c
}

// Remove drops the conversation with the given id, if present.
func (c Cache) Remove(id string) Cache {
	out := make([]Conversation, 0, len(c.conversations))
	for _, conv := range c.conversations {
		if conv.ID != id {
			out = append(out, conv)
		}
	}
	return Cache{conversations: out}
}

// Rekey renames a conversation id in place, used when the server assigns a
// persisted id to a locally created chat.
func (c Cache) Rekey(oldID, newID string) Cache {
	out := append([]Conversation(nil), c.conversations...)
	for i := range out {
		if out[i].ID == oldID {
			out[i].ID = newID
			break
		}
	}
	return Cache{conversations: out}
}

// FinalizeTyping writes final into the conversation's in-flight typing
// placeholder and clears its flag. No-op when no placeholder exists.
func (c Cache) FinalizeTyping(id, final string) Cache {
	conv, ok := c.Get(id)
	if !ok {
		return c
	}
	msgs := append([]Message(nil), conv.Messages...)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsTyping {
			msgs[i].Text = final
			msgs[i].IsTyping = false
			return c.Upsert(id, Patch{Messages: msgs})
		}
	}
	return c
}

// DropTyping removes the conversation's in-flight typing placeholder, used
// to roll back an optimistic send that failed.
func (c Cache) DropTyping(id string) Cache {
	conv, ok := c.Get(id)
	if !ok {
		return c
	}
	msgs := append([]Message(nil), conv.Messages...)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsTyping {
			msgs = append(msgs[:i], msgs[i+1:]...)
			return c.Upsert(id, Patch{Messages: msgs})
		}
	}
	return c
}
