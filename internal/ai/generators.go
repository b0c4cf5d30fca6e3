package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/grochat/grochat/internal/domain"
)

// Kind identifies which generator produced an event.
type Kind string

// Event kinds, part of the wire contract with the presentation layer.
const (
	KindInventoryAnalysis Kind = "inventory_analysis"
	KindMenuSuggestions   Kind = "menu_suggestions"
	KindRestockPlan       Kind = "restock_plan"
	KindProcurementPlan   Kind = "procurement_plan"
)

// Result is one generator outcome: a human-readable narrative plus the
// structured payload passed through to clients unmodified.
type Result struct {
	Narrative string
	Payload   map[string]any
}

// ClassifyGoal routes a trigger goal to the generator it asks for.
// Unrecognized goals default to an inventory analysis.
func ClassifyGoal(goal string) Kind {
	g := strings.ToLower(goal)
	switch {
	case strings.Contains(g, "restock"), strings.Contains(g, "resupply"):
		return KindRestockPlan
	case strings.Contains(g, "menu"), strings.Contains(g, "dish"),
		strings.Contains(g, "recipe"), strings.Contains(g, "cook"):
		return KindMenuSuggestions
	case strings.Contains(g, "buy"), strings.Contains(g, "shopping"),
		strings.Contains(g, "purchase"), strings.Contains(g, "procure"),
		strings.Contains(g, "plan"):
		return KindProcurementPlan
	default:
		return KindInventoryAnalysis
	}
}

// extractJSON parses a JSON object from model output, tolerating fenced or
// prefixed text around the object.
func extractJSON(text string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &out); err == nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("no JSON object in model output")
}

// formatHistory converts chat history into readable multi-line text for
// prompting.
func formatHistory(msgs []*domain.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString("- ")
		b.WriteString(m.Username)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// resultFromParsed lifts the narrative field out of parsed model output; the
// remaining fields become the opaque payload.
func resultFromParsed(parsed map[string]any, fallbackNarrative string) *Result {
	narrative := fallbackNarrative
	if s, ok := parsed["narrative"].(string); ok && s != "" {
		narrative = s
	}
	delete(parsed, "narrative")
	return &Result{Narrative: narrative, Payload: parsed}
}

func splitByStockLevel(inv []*domain.InventoryItem) (low, healthy []*domain.InventoryItem) {
	for _, item := range inv {
		if item.LowStock() {
			low = append(low, item)
		} else {
			healthy = append(healthy, item)
		}
	}
	return low, healthy
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(data)
}

const inventoryAnalysisSystemPrompt = `You are an Inventory Analyst.

INPUT DATA EXPLANATION:
- "low_stock": items the user currently lacks.
- "grocery_items": relevant catalog products that may match low stock items.

YOUR TASK:
1. Acknowledge the current inventory status.
2. For low_stock items, check whether "grocery_items" contains matches and
   mention availability in the narrative.
3. Output STRICT JSON.

OUTPUT FORMAT:
{
  "narrative": "<text summary including availability check>",
  "low_stock": [... echo input ...],
  "healthy": [... echo input ...]
}

RULES:
- Do NOT change the stock numbers.
- JSON ONLY. No markdown fences.`

func generateInventoryAnalysis(ctx context.Context, llm CompletionClient, model string, inv []*domain.InventoryItem, grocery []*domain.GroceryItem, history string) (*Result, error) {
	low, healthy := splitByStockLevel(inv)

	userPayload := mustJSON(map[string]any{
		"inventory_items": inv,
		"low_stock":       low,
		"healthy":         healthy,
		"grocery_items":   grocery,
		"chat_history":    history,
	})

	raw, err := llm.Complete(ctx, model, inventoryAnalysisSystemPrompt, userPayload)
	if err != nil {
		return nil, err
	}
	parsed, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	result := resultFromParsed(parsed, "Inventory analysis generated.")
	if _, ok := result.Payload["low_stock"]; !ok {
		result.Payload["low_stock"] = low
	}
	if _, ok := result.Payload["healthy"]; !ok {
		result.Payload["healthy"] = healthy
	}
	result.Narrative += " If you need a restock plan, type '@gro restock'."
	return result, nil
}

const menuSystemPrompt = `You are an AI Chef.
You suggest dishes that can be made using the given inventory.

Output JSON ONLY:
{
  "narrative": "<short explanation>",
  "dishes": [
    {
      "name": "<dish name>",
      "ingredients_used": ["tomatoes", "cheese"],
      "missing_ingredients": ["basil"]
    }
  ]
}`

func generateMenuSuggestions(ctx context.Context, llm CompletionClient, model string, inv []*domain.InventoryItem) (*Result, error) {
	userPrompt := "Available ingredients:\n" + mustJSON(inv) + "\nGenerate possible dishes."

	raw, err := llm.Complete(ctx, model, menuSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	parsed, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	return resultFromParsed(parsed, "Here are some dishes you could make."), nil
}

const restockSystemPrompt = `You are an AI Procurement Planner.

Given:
1. current inventory
2. a grocery catalog sample with price and category

Output JSON ONLY:
{
  "narrative": "<short story-style explanation>",
  "restock_plan": [
    {
      "product_name": "<string>",
      "needed_qty": <int>,
      "recommended_supplier": "<supplier name or link>",
      "price_estimate": <float>
    }
  ]
}`

func generateRestockPlan(ctx context.Context, llm CompletionClient, model string, inv []*domain.InventoryItem, grocery []*domain.GroceryItem) (*Result, error) {
	userPrompt := fmt.Sprintf("Inventory: %s\n\nGrocery catalog sample: %s\n\nCreate a weekly restock plan with suppliers.",
		mustJSON(inv), mustJSON(grocery))

	raw, err := llm.Complete(ctx, model, restockSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	parsed, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	return resultFromParsed(parsed, "Here is your weekly restock plan."), nil
}

const procurementSystemPrompt = `You are an intelligent AI Procurement Planner.

Your goal is to create a consolidated shopping list based on the chat history.

CRITICAL LOGIC RULES:
1. Conflict resolution: if one user asks for an item and another says it is
   already available or should not be bought, REMOVE it from the list.
2. Quantity merging: "buy 2 apples" plus "buy 3 more" yields "5 apples".
3. Categorization: assign a logical category (Produce, Dairy, Meat, ...).
4. Filtering: ignore casual chit-chat; only list items explicitly requested.

OUTPUT FORMAT (STRICT JSON ONLY):
{
  "goal": "<string>",
  "summary": "<one-sentence summary of the plan>",
  "narrative": "<friendly explanation of what was decided>",
  "items": [
    {
      "name": "<string>",
      "quantity": "<e.g. '2 packs', '500g'>",
      "category": "<e.g. 'Produce'>",
      "notes": "<who asked for it, or brand mentioned>"
    }
  ]
}

IMPORTANT:
- Output ONLY VALID JSON.
- Do NOT include markdown formatting.`

func generateProcurementPlan(ctx context.Context, llm CompletionClient, model, history, goal string) (*Result, error) {
	userContent := mustJSON(map[string]any{
		"inferred_goal":     goal,
		"chat_history_text": history,
	})

	raw, err := llm.Complete(ctx, model, procurementSystemPrompt, userContent)
	if err != nil {
		return nil, err
	}
	parsed, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	result := resultFromParsed(parsed, "Here is your consolidated shopping plan.")
	if _, ok := result.Payload["goal"]; !ok {
		result.Payload["goal"] = goal
	}
	if _, ok := result.Payload["items"]; !ok {
		result.Payload["items"] = []any{}
	}
	return result, nil
}
