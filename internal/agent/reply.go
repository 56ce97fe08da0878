package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/ema/pkg/models"
)

// Built-in allowed sets for reply payload validation, used when the
// configuration does not supply its own.
var (
	defaultExpressions = []string{"普通", "开心", "伤心", "生气", "害羞", "惊讶"}
	defaultActions     = []string{"无", "点头", "摇头", "挥手", "思考"}
)

// DefaultExpressions returns the built-in allowed expression set.
func DefaultExpressions() []string {
	return append([]string(nil), defaultExpressions...)
}

// DefaultActions returns the built-in allowed action set.
func DefaultActions() []string {
	return append([]string(nil), defaultActions...)
}

type replyParser struct {
	expressions map[string]bool
	actions     map[string]bool
}

func newReplyParser(expressions, actions []string) *replyParser {
	if len(expressions) == 0 {
		expressions = defaultExpressions
	}
	if len(actions) == 0 {
		actions = defaultActions
	}
	return &replyParser{
		expressions: toSet(expressions),
		actions:     toSet(actions),
	}
}

// parse decodes and validates a reply tool payload. Unknown fields,
// missing response text, and out-of-set expression or action values are
// all rejected.
func (p *replyParser) parse(content string) (models.EmaReply, error) {
	var reply models.EmaReply
	decoder := json.NewDecoder(strings.NewReader(content))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&reply); err != nil {
		return models.EmaReply{}, fmt.Errorf("decode reply: %w", err)
	}
	if strings.TrimSpace(reply.Response) == "" {
		return models.EmaReply{}, fmt.Errorf("reply response is empty")
	}
	if reply.Expression != "" && !p.expressions[reply.Expression] {
		return models.EmaReply{}, fmt.Errorf("reply expression %q is not allowed", reply.Expression)
	}
	if reply.Action != "" && !p.actions[reply.Action] {
		return models.EmaReply{}, fmt.Errorf("reply action %q is not allowed", reply.Action)
	}
	return reply, nil
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}
