package rules

// FactsAssembler flattens a project into the fact bag used for evaluation.
type FactsAssembler struct{}

// Assemble merges, later sources winning: the project's built-in fields, its metadata,
// its facts object, its fact-entry rows and finally the caller's overrides.
// Built-in fields are only set when present. Nothing is validated.
func (FactsAssembler) Assemble(p *Project, overrides Facts) Facts {
	facts := make(Facts)
	if p != nil {
		setString(facts, "projectId", p.ID)
		setString(facts, "tenantId", p.TenantID)
		setString(facts, "medium", p.Medium)
		if p.PressureValue != nil {
			facts["psValue"] = *p.PressureValue
		}
		if p.Volume != nil {
			facts["volume"] = *p.Volume
		}
		setString(facts, "address", p.Address)
		setString(facts, "clientName", p.ClientName)
		setString(facts, "status", p.Status)

		for k, v := range p.Metadata {
			facts[k] = v
		}
		for k, v := range p.Facts {
			facts[k] = v
		}
		for _, e := range p.FactEntries {
			if e.Key == "" {
				continue
			}
			facts[e.Key] = e.Value
		}
	}
	for k, v := range overrides {
		facts[k] = v
	}
	return facts
}

func setString(facts Facts, key, value string) {
	if value != "" {
		facts[key] = value
	}
}
