package segment

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/crm-insights/internal/model"
)

func TestDeals_StatusAndCategoryPartition(t *testing.T) {
	deals := []model.Deal{
		{ID: "1", Status: model.DealStatusWon, CategoryCode: "0"},
		{ID: "2", Status: model.DealStatusLost, CategoryCode: "1"},
		{ID: "3", Status: model.DealStatusOpen, CategoryCode: "1"},
		{ID: "4", Status: model.DealStatus("C2:PREPAYMENT"), CategoryCode: "42"},
		{ID: "5", Status: model.DealStatusWon, CategoryCode: ""},
	}

	b := New(nil).Deals(deals)

	assert.Len(t, b.Won, 2)
	assert.Len(t, b.Lost, 1)
	assert.Len(t, b.Open, 2)
	assert.Equal(t, len(deals), b.Total())

	assert.Len(t, b.Retail, 1)
	assert.Len(t, b.Project, 2)
	assert.Len(t, b.Other, 2)
	assert.Equal(t, len(deals), len(b.Retail)+len(b.Project)+len(b.Other))
	assert.Equal(t, b.Project, b.ByCategory(model.CategoryProject))
}

func TestDeals_PartitionCompleteness(t *testing.T) {
	statuses := []model.DealStatus{model.DealStatusWon, model.DealStatusLost, model.DealStatusOpen, "WEIRD", ""}
	codes := []string{"0", "1", "2", "x"}

	var deals []model.Deal
	for i := 0; i < 97; i++ {
		deals = append(deals, model.Deal{
			ID:           fmt.Sprint(i),
			Status:       statuses[i%len(statuses)],
			CategoryCode: codes[i%len(codes)],
		})
	}

	b := New(nil).Deals(deals)
	assert.Equal(t, 97, b.Total())
	assert.Equal(t, 97, len(b.Retail)+len(b.Project)+len(b.Other))
}

func TestDeals_Empty(t *testing.T) {
	b := New(nil).Deals(nil)
	assert.Zero(t, b.Total())
}

func TestLeads_ConvertedByStatusOrReference(t *testing.T) {
	leads := []model.Lead{
		{ID: "L1", Status: model.LeadStatusConverted},
		{ID: "L2", Status: model.LeadStatusInProgress},
		{ID: "L3", Status: model.LeadStatusDiscarded},
		{ID: "L4", Status: model.LeadStatusNew, DiscardReason: "no budget"},
		{ID: "L5", Status: model.LeadStatusDiscarded},
		{ID: "L6", Status: model.LeadStatusNew},
	}
	deals := []model.Deal{
		{ID: "D1", LeadID: "L2"},
		{ID: "D2", LeadID: "L5"},
		{ID: "D3", LeadID: "0"},
	}

	b := New(nil).Leads(leads, deals)

	assert.Equal(t, []string{"L1", "L2", "L5"}, leadIDs(b.Converted))
	assert.Equal(t, []string{"L3", "L4"}, leadIDs(b.Discarded))
	assert.Equal(t, []string{"L6"}, leadIDs(b.Active))
	assert.Equal(t, len(leads), b.Total())
}

func TestLeads_EmptyIDNotLinked(t *testing.T) {
	b := New(nil).Leads([]model.Lead{{Status: model.LeadStatusNew}}, []model.Deal{{LeadID: ""}})
	assert.Len(t, b.Active, 1)
}

func TestLeads_ScenarioConversionCount(t *testing.T) {
	leads := make([]model.Lead, 0, 100)
	for i := 0; i < 100; i++ {
		l := model.Lead{ID: fmt.Sprint(i), Status: model.LeadStatusNew}
		if i < 20 {
			l.Status = model.LeadStatusConverted
		}
		leads = append(leads, l)
	}

	b := New(nil).Leads(leads, nil)
	assert.Len(t, b.Converted, 20)
	assert.Len(t, b.Active, 80)
	assert.Empty(t, b.Discarded)
}

func TestReferencedLeads(t *testing.T) {
	refs := ReferencedLeads([]model.Deal{{LeadID: "A"}, {LeadID: ""}, {LeadID: "0"}, {LeadID: "A"}})
	assert.Len(t, refs, 1)
	assert.Contains(t, refs, "A")
}

func leadIDs(leads []model.Lead) []string {
	out := make([]string, 0, len(leads))
	for _, l := range leads {
		out = append(out, l.ID)
	}
	return out
}
