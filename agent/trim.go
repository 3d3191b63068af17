package agent

// TrimOptions bounds the history handed to the model.
type TrimOptions struct {
	// MaxMessages is the window size in messages. Zero or less disables it.
	MaxMessages int
	// System, when non-nil, is prepended to every result and does not count
	// against MaxMessages.
	System *Message
}

// TrimHistory returns a suffix of history that fits the window and starts on
// a user message. The latest user message is always kept: when the current
// turn alone is longer than the window, the result is that user message
// followed by the newest tail of the turn that starts on an assistant message,
// so tool calls are never separated from their results. Tool calls that no
// tool message answers are removed from the result.
//
// TrimHistory never modifies history and never fails.
func TrimHistory(history []Message, opts TrimOptions) []Message {
	lastUser := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			lastUser = i
			break
		}
	}

	var window []Message
	switch {
	case lastUser < 0:
		// nothing the model could answer
	case opts.MaxMessages <= 0:
		window = fromFirstUser(history, 0)
	default:
		start := len(history) - opts.MaxMessages
		if start < 0 {
			start = 0
		}
		if start <= lastUser {
			window = fromFirstUser(history, start)
		} else {
			window = turnTail(history, lastUser, opts.MaxMessages-1)
		}
	}

	window = pairToolCalls(window)
	if opts.System == nil {
		return window
	}
	out := make([]Message, 0, len(window)+1)
	out = append(out, *opts.System)
	return append(out, window...)
}

func fromFirstUser(history []Message, start int) []Message {
	for i := start; i < len(history); i++ {
		if history[i].Role == RoleUser {
			out := make([]Message, len(history)-i)
			copy(out, history[i:])
			return out
		}
	}
	return nil
}

// turnTail keeps the user message at userIdx plus at most budget of the
// newest messages after it, cut so the tail begins on an assistant message.
func turnTail(history []Message, userIdx, budget int) []Message {
	out := []Message{history[userIdx]}
	if budget <= 0 {
		return out
	}
	start := len(history) - budget
	if start <= userIdx {
		start = userIdx + 1
	}
	for start < len(history) && history[start].Role != RoleAssistant {
		start++
	}
	return append(out, history[start:]...)
}

// pairToolCalls drops tool calls that are not answered by the tool messages
// directly following their assistant message, and tool messages that answer
// no call. Backends reject a history in which either appears. An assistant
// message left with neither text nor calls is dropped too.
func pairToolCalls(msgs []Message) []Message {
	if len(msgs) == 0 {
		return msgs
	}
	out := make([]Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]
		if m.Role == RoleTool {
			continue
		}
		if m.Role != RoleAssistant || len(m.ToolCalls) == 0 {
			out = append(out, m)
			continue
		}

		end := i + 1
		for end < len(msgs) && msgs[end].Role == RoleTool {
			end++
		}
		answered := make(map[string]bool, end-i-1)
		for _, r := range msgs[i+1 : end] {
			answered[r.CallID] = true
		}

		calls := make([]ToolCallRequest, 0, len(m.ToolCalls))
		live := make(map[string]bool, len(m.ToolCalls))
		for _, call := range m.ToolCalls {
			if answered[call.CallID] && !live[call.CallID] {
				calls = append(calls, call)
				live[call.CallID] = true
			}
		}
		m.ToolCalls = calls
		if m.Content != "" || len(calls) > 0 {
			out = append(out, m)
		}
		for _, r := range msgs[i+1 : end] {
			if live[r.CallID] {
				out = append(out, r)
				delete(live, r.CallID)
			}
		}
		i = end - 1
	}
	return out
}
