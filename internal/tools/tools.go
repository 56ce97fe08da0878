package tools

import (
	"github.com/haasonsaas/ema/internal/agenda"
	"github.com/haasonsaas/ema/internal/agent"
	"github.com/haasonsaas/ema/internal/config"
	"github.com/haasonsaas/ema/internal/memstore"
)

// Deps carries the backends the built-in tools run against.
type Deps struct {
	ShortTerm *memstore.Memories
	LongTerm  *memstore.Memories
	Searcher  memstore.Searcher
	Scheduler *agenda.Scheduler
}

// ForConfig assembles the tool set for one actor: the reply tool is
// always present, everything else is gated by tools.* config.
func ForConfig(cfg config.ToolsConfig, agentCfg agent.Config, deps Deps) []agent.Tool {
	expressions := agentCfg.AllowedExpressions
	if len(expressions) == 0 {
		expressions = agent.DefaultExpressions()
	}
	actions := agentCfg.AllowedActions
	if len(actions) == 0 {
		actions = agent.DefaultActions()
	}
	set := []agent.Tool{
		NewReplyTool(expressions, actions),
	}
	if cfg.RememberShortTerm && deps.ShortTerm != nil {
		set = append(set, NewRememberShortTerm(deps.ShortTerm))
	}
	if cfg.RememberLongTerm && deps.LongTerm != nil {
		set = append(set, NewRememberLongTerm(deps.LongTerm))
	}
	if cfg.SearchMemory && deps.Searcher != nil {
		set = append(set, NewSearchMemory(deps.Searcher))
	}
	if cfg.ScheduleTask && deps.Scheduler != nil {
		set = append(set, NewScheduleTask(deps.Scheduler))
	}
	return set
}
