// Package agentpool maps tasks to agent personas and renders their prompts.
package agentpool

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/hivemind/internal/config"
	"github.com/ShayCichocki/hivemind/internal/tasktree"
	"github.com/ShayCichocki/hivemind/pkg/models"
)

// Pool owns the task-to-agent assignment for a run. Assignment is
// deterministic: the same focus path always yields the same persona, so
// reruns with identical input produce identical assignments.
type Pool struct {
	topic   string
	model   string
	prompts config.PromptsConfig

	agents map[string]*models.Agent
	byTask map[string]*models.Agent
}

// New creates an empty Pool for the given topic.
func New(topic, model string, prompts config.PromptsConfig) *Pool {
	return &Pool{
		topic:   topic,
		model:   model,
		prompts: prompts,
		agents:  make(map[string]*models.Agent),
		byTask:  make(map[string]*models.Agent),
	}
}

// DerivePersona builds the persona text for a role and topic.
func DerivePersona(role, topic string) string {
	return fmt.Sprintf("You are a %s specializing in %s. Provide actionable insights and expertise.", role, topic)
}

// Assign creates a focus agent for every task and returns the
// task ID to agent mapping. The agent's persona is derived from the task's
// leaf focus, independent of run order.
func (p *Pool) Assign(tasks []*models.Task) map[string]*models.Agent {
	assigned := make(map[string]*models.Agent, len(tasks))
	for _, task := range tasks {
		agent := &models.Agent{
			ID:   "agent_" + task.ID,
			Kind: models.AgentKindFocus,
			Persona: models.Persona{
				Role:  task.Leaf(),
				Focus: task.Leaf(),
				Model: p.model,
			},
			TaskIDs: []string{task.ID},
		}
		task.AgentID = agent.ID
		task.Status = models.TaskStatusAssigned

		p.agents[agent.ID] = agent
		p.byTask[task.ID] = agent
		assigned[task.ID] = agent
	}
	return assigned
}

// SpawnSpecial creates specialized phase-two agents from the configured
// groups and returns their synthetic tasks. The tasks reference the
// aggregate of phase one rather than a fresh prompt; the engine must not
// admit them until every phase-one task is terminal.
func (p *Pool) SpawnSpecial(groups []config.AgentGroup, kind models.AgentKind) []*models.Task {
	now := time.Now().UTC()

	var tasks []*models.Task
	for _, group := range groups {
		for _, at := range group.AgentTypes {
			for n := 1; n <= at.AgentCount; n++ {
				id := slug(fmt.Sprintf("%s_%s_%s_%d", kind, group.Name, at.Name, n))
				desc := fmt.Sprintf(
					"As a %s, your focus is to %s.\nAnalyze the aggregated findings below across all focus areas.",
					at.Name, at.Focus,
				)
				task := &models.Task{
					ID:              id,
					FocusPath:       []string{string(kind), at.Focus},
					Prompt:          desc,
					EstimatedTokens: tasktree.EstimateTokens(desc),
					Status:          models.TaskStatusAssigned,
					Phase:           models.PhaseAnalysis,
					CreatedAt:       now,
				}

				agent := &models.Agent{
					ID:   "agent_" + id,
					Kind: kind,
					Persona: models.Persona{
						Role:  at.Name,
						Focus: at.Focus,
						Model: p.model,
					},
					TaskIDs: []string{id},
				}
				task.AgentID = agent.ID

				p.agents[agent.ID] = agent
				p.byTask[id] = agent
				tasks = append(tasks, task)
			}
		}
	}
	return tasks
}

// Agent returns the agent that owns the given task, or nil.
func (p *Pool) Agent(taskID string) *models.Agent {
	return p.byTask[taskID]
}

// Agents returns all agents in the pool, keyed by agent ID.
func (p *Pool) Agents() map[string]*models.Agent {
	return p.agents
}

// ProducePrompt renders the full execution prompt for a task using its
// agent's persona. Placeholder values are substituted verbatim.
func (p *Pool) ProducePrompt(task *models.Task) string {
	agent := p.byTask[task.ID]
	persona := ""
	if agent != nil {
		persona = DerivePersona(agent.Persona.Role, p.topic)
	}
	return RenderTemplate(p.prompts.SubtaskExecution, map[string]string{
		"persona": persona,
		"subtask": task.Prompt,
		"topic":   p.topic,
	})
}

// ProducePhaseTwoPrompt renders a phase-two prompt with the phase-one
// aggregate appended to the task's instruction.
func (p *Pool) ProducePhaseTwoPrompt(task *models.Task, aggregate string) string {
	agent := p.byTask[task.ID]
	persona := ""
	if agent != nil {
		persona = DerivePersona(agent.Persona.Role, agent.Persona.Focus)
	}
	subtask := task.Prompt + "\n\nAggregated findings:\n" + aggregate
	return RenderTemplate(p.prompts.SubtaskExecution, map[string]string{
		"persona": persona,
		"subtask": subtask,
		"topic":   p.topic,
	})
}

// RenderTemplate substitutes {name} placeholders with the given values.
// Unescaped control characters in values are the caller's responsibility.
func RenderTemplate(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func slug(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "_"))
}
