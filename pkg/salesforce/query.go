package salesforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// TimeLayout is the layout of Salesforce datetime fields.
const TimeLayout = "2006-01-02T15:04:05.000-0700"

// Owner is the User a record is assigned to.
type Owner struct {
	Name string `json:"Name"`
}

// Account is the subset of Account fields read through an Opportunity.
type Account struct {
	Phone string `json:"Phone"`
}

// Lead represents a Salesforce Lead record.
type Lead struct {
	ID                     string `json:"Id"`
	Name                   string `json:"Name"`
	Company                string `json:"Company"`
	LeadSource             string `json:"LeadSource"`
	Status                 string `json:"Status"`
	IsConverted            bool   `json:"IsConverted"`
	ConvertedOpportunityID string `json:"ConvertedOpportunityId"`
	CreatedDate            string `json:"CreatedDate"`
	State                  string `json:"State"`
	Phone                  string `json:"Phone"`
	MobilePhone            string `json:"MobilePhone"`
	Owner                  *Owner `json:"Owner"`
}

// Opportunity represents a Salesforce Opportunity record.
type Opportunity struct {
	ID          string   `json:"Id"`
	Name        string   `json:"Name"`
	Amount      float64  `json:"Amount"`
	StageName   string   `json:"StageName"`
	IsClosed    bool     `json:"IsClosed"`
	IsWon       bool     `json:"IsWon"`
	Type        string   `json:"Type"`
	LeadSource  string   `json:"LeadSource"`
	CreatedDate string   `json:"CreatedDate"`
	CloseDate   string   `json:"CloseDate"`
	Account     *Account `json:"Account"`
	Owner       *Owner   `json:"Owner"`
}

// leadFields are the SOQL fields selected for Lead queries.
var leadFields = []string{
	"Id", "Name", "Company", "LeadSource", "Status", "IsConverted",
	"ConvertedOpportunityId", "CreatedDate", "State", "Phone", "MobilePhone",
	"Owner.Name",
}

// opportunityFields are the SOQL fields selected for Opportunity queries.
var opportunityFields = []string{
	"Id", "Name", "Amount", "StageName", "IsClosed", "IsWon", "Type",
	"LeadSource", "CreatedDate", "CloseDate", "Account.Phone", "Owner.Name",
}

// ListLeads returns the leads created between from and to, inclusive by
// calendar day. A nil bound leaves that side open.
func ListLeads(ctx context.Context, c Client, from, to *time.Time) ([]Lead, error) {
	soql := fmt.Sprintf("SELECT %s FROM Lead", strings.Join(leadFields, ", "))
	if where := datetimeRange("CreatedDate", from, to); where != "" {
		soql += " WHERE " + where
	}
	soql += " ORDER BY CreatedDate"

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, "sf: list leads")
	}
	return leads, nil
}

// ListOpportunities returns the opportunities created or closed between
// from and to, so both the pipeline and the revenue views can be built from
// one fetch.
func ListOpportunities(ctx context.Context, c Client, from, to *time.Time) ([]Opportunity, error) {
	soql := fmt.Sprintf("SELECT %s FROM Opportunity", strings.Join(opportunityFields, ", "))
	created := datetimeRange("CreatedDate", from, to)
	closed := dateRange("CloseDate", from, to)
	if created != "" {
		soql += fmt.Sprintf(" WHERE (%s) OR (%s)", created, closed)
	}
	soql += " ORDER BY CreatedDate"

	var opps []Opportunity
	if err := c.Query(ctx, soql, &opps); err != nil {
		return nil, eris.Wrap(err, "sf: list opportunities")
	}
	return opps, nil
}

// GetOpportunity reads a single opportunity by ID.
func GetOpportunity(ctx context.Context, c Client, id string) (*Opportunity, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Opportunity WHERE Id = '%s' LIMIT 1",
		strings.Join(opportunityFields, ", "),
		escapeSoql(id),
	)

	var opps []Opportunity
	if err := c.Query(ctx, soql, &opps); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: get opportunity %s", id))
	}
	if len(opps) == 0 {
		return nil, nil
	}
	return &opps[0], nil
}

// FindLeadsByPhone runs a SOSL phone search for the digits of phone.
// Salesforce matches phone fields whatever their stored formatting; callers
// still confirm each hit after normalizing.
func FindLeadsByPhone(ctx context.Context, c Client, phone string) ([]Lead, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return nil, nil
	}
	sosl := fmt.Sprintf(
		"FIND {%s} IN PHONE FIELDS RETURNING Lead(%s) LIMIT 50",
		digits,
		strings.Join(leadFields, ", "),
	)

	var leads []Lead
	if err := c.Search(ctx, sosl, &leads); err != nil {
		return nil, eris.Wrapf(err, "sf: find leads by phone %s", phone)
	}
	return leads, nil
}

// ParseTime parses a Salesforce datetime or date field. It returns the zero
// time for empty or malformed values.
func ParseTime(s string) time.Time {
	for _, layout := range []string{TimeLayout, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func datetimeRange(field string, from, to *time.Time) string {
	var parts []string
	if from != nil {
		start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
		parts = append(parts, fmt.Sprintf("%s >= %s", field, start.UTC().Format(time.RFC3339)))
	}
	if to != nil {
		end := time.Date(to.Year(), to.Month(), to.Day()+1, 0, 0, 0, 0, to.Location())
		parts = append(parts, fmt.Sprintf("%s < %s", field, end.UTC().Format(time.RFC3339)))
	}
	return strings.Join(parts, " AND ")
}

func dateRange(field string, from, to *time.Time) string {
	var parts []string
	if from != nil {
		parts = append(parts, fmt.Sprintf("%s >= %s", field, from.Format("2006-01-02")))
	}
	if to != nil {
		parts = append(parts, fmt.Sprintf("%s <= %s", field, to.Format("2006-01-02")))
	}
	return strings.Join(parts, " AND ")
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
