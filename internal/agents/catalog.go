package agents

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Canonical agent names.
const (
	DataHarvesterName = "DataHarvester"
	TrendAnalystName  = "TrendAnalyst"
	ForecasterName    = "Forecaster"
	MCTSOptimizerName = "MCTSOptimizer"
	VisualizerName    = "Visualizer"
	OrderManagerName  = "OrderManager"
	NotifierName      = "Notifier"
)

// CatalogEntry configures one agent.
type CatalogEntry struct {
	Name         string  `yaml:"name" json:"name"`
	Description  string  `yaml:"description" json:"description"`
	Model        string  `yaml:"model" json:"model"`
	Temperature  float64 `yaml:"temperature" json:"temperature"`
	MaxTokens    int     `yaml:"max_tokens" json:"max_tokens"`
	SystemPrompt string  `yaml:"system_prompt" json:"system_prompt"`
}

// Catalog is the set of agents known to the orchestrator.
type Catalog struct {
	Agents []CatalogEntry `yaml:"agents"`
}

// DefaultCatalog returns the built-in agent definitions.
func DefaultCatalog() Catalog {
	return Catalog{Agents: []CatalogEntry{
		{
			Name:         DataHarvesterName,
			Description:  "Collects, cleans and profiles supply chain data (sales, inventory, supplier records).",
			Model:        "meta-llama/llama-4-scout-17b-16e-instruct",
			Temperature:  0.2,
			MaxTokens:    2000,
			SystemPrompt: "You are DataHarvester, a supply chain data specialist. Summarize the available data, flag quality issues and list the fields relevant to the request.",
		},
		{
			Name:         TrendAnalystName,
			Description:  "Finds demand trends, seasonality and anomalies in historical data.",
			Model:        "meta-llama/llama-4-scout-17b-16e-instruct",
			Temperature:  0.3,
			MaxTokens:    2000,
			SystemPrompt: "You are TrendAnalyst. Identify trends, seasonality and anomalies and explain their business impact concisely.",
		},
		{
			Name:         ForecasterName,
			Description:  "Forecasts future demand and inventory needs.",
			Model:        "llama-3.3-70b-versatile",
			Temperature:  0.2,
			MaxTokens:    2500,
			SystemPrompt: "You are Forecaster. Produce a demand forecast with the method, horizon, expected values and confidence you would report.",
		},
		{
			Name:         MCTSOptimizerName,
			Description:  "Optimizes inventory and reorder decisions under constraints.",
			Model:        "llama-3.3-70b-versatile",
			Temperature:  0.2,
			MaxTokens:    2500,
			SystemPrompt: "You are MCTSOptimizer. Recommend reorder quantities and timing that balance stock-out risk against holding cost. Show the decision and its rationale.",
		},
		{
			Name:         VisualizerName,
			Description:  "Designs charts and dashboards that communicate the findings.",
			Model:        "llama-3.3-70b-versatile",
			Temperature:  0.4,
			MaxTokens:    1500,
			SystemPrompt: "You are Visualizer. Describe the charts that best present the results: chart type, axes, series and the insight each conveys.",
		},
		{
			Name:        OrderManagerName,
			Description: "Drafts purchase orders and order processing plans for approval.",
			Model:       "llama-3.1-8b-instant",
			Temperature: 0.3,
			MaxTokens:   1500,
		},
		{
			Name:        NotifierName,
			Description: "Sends stakeholder notifications about generated orders. Only runs after OrderManager.",
			Model:       "llama-3.1-8b-instant",
			Temperature: 0.5,
			MaxTokens:   150,
		},
	}}
}

// LoadCatalog reads a yaml catalog and overlays it on the defaults. Entries
// are matched by name (case-insensitive); unknown names add new prompt agents.
// Zero-valued fields keep the default.
func LoadCatalog(path string) (Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cat, fmt.Errorf("read agent catalog: %w", err)
	}
	var file Catalog
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return cat, fmt.Errorf("parse agent catalog %s: %w", path, err)
	}
	for _, override := range file.Agents {
		if strings.TrimSpace(override.Name) == "" {
			return cat, fmt.Errorf("agent catalog %s: entry without name", path)
		}
		cat.merge(override)
	}
	return cat, nil
}

func (c *Catalog) merge(override CatalogEntry) {
	for i := range c.Agents {
		cur := &c.Agents[i]
		if !strings.EqualFold(cur.Name, override.Name) {
			continue
		}
		if override.Description != "" {
			cur.Description = override.Description
		}
		if override.Model != "" {
			cur.Model = override.Model
		}
		if override.Temperature != 0 {
			cur.Temperature = override.Temperature
		}
		if override.MaxTokens != 0 {
			cur.MaxTokens = override.MaxTokens
		}
		if override.SystemPrompt != "" {
			cur.SystemPrompt = override.SystemPrompt
		}
		return
	}
	c.Agents = append(c.Agents, override)
}

// WithModels returns a copy with per-agent model overrides applied.
func (c Catalog) WithModels(models map[string]string) Catalog {
	out := Catalog{Agents: make([]CatalogEntry, len(c.Agents))}
	copy(out.Agents, c.Agents)
	for name, model := range models {
		if model == "" {
			continue
		}
		for i := range out.Agents {
			if strings.EqualFold(out.Agents[i].Name, name) || strings.EqualFold(snakeless(out.Agents[i].Name), snakeless(name)) {
				out.Agents[i].Model = model
			}
		}
	}
	return out
}

// Entry returns the entry for name.
func (c Catalog) Entry(name string) (CatalogEntry, bool) {
	for _, e := range c.Agents {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// snakeless folds "order_manager" and "OrderManager" to the same key.
func snakeless(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}
