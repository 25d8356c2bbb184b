/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built installations that populate the calculation history
  with realistic data for demos of the dashboard and report exports. Each
  scenario runs through the same calculate/save/publish path as
  POST /api/calculations.

AVAILABLE SCENARIOS:
  residential-gd2:   Three-phase home installed before the reference date
  recent-install:    Installed after the reference date (shorter window)
  grandfathered-gd1: Installed before the GD1 cutoff
  surplus-export:    Injection well above consumption (capped compensation)
  neighbourhood:     A mix of all supply types for dashboard totals

HOW SCENARIOS WORK:
  1. Look up the scenario's installations
  2. Calculate each one as of today
  3. Save under the "demo" owner (or X-User-ID when given)
  4. Publish CalculationCompleted as for any calculation

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "neighbourhood"}

NOTE:
  History is append-only. Loading a scenario twice adds its records twice.

SEE ALSO:
  - handlers.go: save() shared with CreateCalculation
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/icms-refund/engine"
)

// DemoOwner owns scenario records when the caller sends no X-User-ID.
const DemoOwner = "demo"

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioResponse lists the records a scenario created.
type LoadScenarioResponse struct {
	Status       string           `json:"status"`
	Scenario     string           `json:"scenario"`
	Calculations []CalculationDTO `json:"calculations"`
}

type scenario struct {
	ScenarioDTO
	installations []engine.CalculationInput
}

func installation(supply engine.SupplyType, injected, consumption int64, y int, m time.Month, d int, client string) engine.CalculationInput {
	return engine.CalculationInput{
		SupplyType:        supply,
		InjectedEnergyKWh: injected,
		ConsumptionKWh:    consumption,
		InstallationDate:  time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		ClientName:        client,
	}
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "residential-gd2",
			Name:        "Residential GD2",
			Description: "Three-phase home installed in 2023, window anchored at the reference date",
			Category:    "gd2",
		},
		installations: []engine.CalculationInput{
			installation(engine.SupplyThreePhase, 1000, 800, 2023, time.March, 10, "Residência Silva"),
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "recent-install",
			Name:        "Recent Install",
			Description: "Installed after the reference date, window starts at installation",
			Category:    "gd2",
		},
		installations: []engine.CalculationInput{
			installation(engine.SupplyTwoPhase, 450, 520, 2024, time.September, 20, "Padaria Souza"),
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "grandfathered-gd1",
			Name:        "Grandfathered GD1",
			Description: "Installed before the GD1 cutoff",
			Category:    "gd1",
		},
		installations: []engine.CalculationInput{
			installation(engine.SupplySinglePhase, 300, 280, 2022, time.November, 5, "Sítio Oliveira"),
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "surplus-export",
			Name:        "Surplus Export",
			Description: "Injection far above consumption; only consumed energy is compensated",
			Category:    "gd2",
		},
		installations: []engine.CalculationInput{
			installation(engine.SupplyThreePhase, 2500, 600, 2023, time.August, 1, "Galpão Pereira"),
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "neighbourhood",
			Name:        "Neighbourhood",
			Description: "Mixed supply types and dates for dashboard totals",
			Category:    "mixed",
		},
		installations: []engine.CalculationInput{
			installation(engine.SupplySinglePhase, 180, 220, 2023, time.June, 15, "Casa 1"),
			installation(engine.SupplyTwoPhase, 420, 390, 2024, time.February, 2, "Casa 2"),
			installation(engine.SupplyThreePhase, 900, 1100, 2024, time.July, 30, "Casa 3"),
			installation(engine.SupplyThreePhase, 1200, 0, 2024, time.October, 9, "Casa 4"),
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		dtos = append(dtos, s.ScenarioDTO)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario calculates and saves a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	owner := ownerID(r)
	if owner == "" {
		owner = DemoOwner
	}

	started := time.Now()
	records, err := h.loadScenario(r.Context(), s, owner)
	if engine.IsClientError(err) || engine.IsRateMiss(err) {
		h.writeCalculationError(w, err, started)
		return
	}
	if err != nil {
		h.internalError(w, r, fmt.Sprintf("Failed to load scenario %s", s.ID), err)
		return
	}

	dtos := make([]CalculationDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toCalculationDTO(rec, engine.Classify(rec.Input.InstallationDate, h.gd1Cutoff), false))
	}
	writeJSON(w, http.StatusOK, LoadScenarioResponse{Status: "loaded", Scenario: s.ID, Calculations: dtos})
}

// =============================================================================
// SCENARIO LOADER
// =============================================================================

func (h *Handler) loadScenario(ctx context.Context, s scenario, owner string) ([]engine.Record, error) {
	asOf := h.now().UTC()
	records := make([]engine.Record, 0, len(s.installations))
	for _, in := range s.installations {
		started := time.Now()
		result, err := h.calculator.Calculate(in, asOf)
		if err != nil {
			return records, fmt.Errorf("calculate %s: %w", in.ClientName, err)
		}
		rec, err := h.save(ctx, owner, in, result, started)
		if err != nil {
			return records, fmt.Errorf("save %s: %w", in.ClientName, err)
		}
		records = append(records, rec)
	}

	h.log.WithField("scenario", s.ID).WithField("records", len(records)).Info("scenario loaded")
	return records, nil
}
