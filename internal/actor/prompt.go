package actor

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MemoryBufferToken marks where recent conversation turns are inlined
// into the system prompt template.
const MemoryBufferToken = "{MEMORY_BUFFER}"

const emptyMemoryBuffer = "None."

// renderSystemPrompt substitutes the memory buffer token with the most
// recent conversation turns in forward time order. A template without
// the token passes through unchanged; a read failure degrades to the
// empty buffer so a fresh run can still start.
func (w *Worker) renderSystemPrompt() string {
	tmpl := w.cfg.SystemPromptTemplate
	if !strings.Contains(tmpl, MemoryBufferToken) {
		return tmpl
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	recent, err := w.stores.Conversations.ListRecent(ctx, w.cfg.Key.ConversationID, w.cfg.memoryWindow())
	if err != nil {
		w.logger.Error("memory buffer read failed", "error", err)
		recent = nil
	}

	buffer := emptyMemoryBuffer
	if len(recent) > 0 {
		lines := make([]string, 0, len(recent))
		for _, m := range recent {
			stamp := time.UnixMilli(m.Time).Format("2006-01-02 15:04:05")
			lines = append(lines, fmt.Sprintf("[%s] %s: %s", stamp, m.Name, m.Text()))
		}
		buffer = strings.Join(lines, "\n")
	}
	return strings.ReplaceAll(tmpl, MemoryBufferToken, buffer)
}
