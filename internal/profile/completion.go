package profile

import "strings"

// Completion summarizes how much of the fixed field checklist carries a
// value. Percentage grows strictly with every additional filled field.
type Completion struct {
	Percentage int      `json:"percentage"`
	Filled     int      `json:"filled"`
	Total      int      `json:"total"`
	Missing    []string `json:"missing"`
}

// ComputeCompletion evaluates the checklist: full name and email from the
// account plus the nine self-reported profile fields.
func ComputeCompletion(fullName, email string, p Profile) Completion {
	checklist := []struct {
		name  string
		value string
	}{
		{"fullName", fullName},
		{"email", email},
		{"birthPlace", p.BirthPlace},
		{"birthDate", p.BirthDate},
		{"gender", p.Gender},
		{"religion", p.Religion},
		{"education", p.Education},
		{"occupation", p.Occupation},
		{"institution", p.Institution},
		{"address", p.Address},
		{"phone", p.Phone},
	}

	completion := Completion{Total: len(checklist), Missing: make([]string, 0)}
	for _, field := range checklist {
		if strings.TrimSpace(field.value) == "" {
			completion.Missing = append(completion.Missing, field.name)
			continue
		}
		completion.Filled++
	}

	completion.Percentage = completion.Filled * 100 / completion.Total

	return completion
}
