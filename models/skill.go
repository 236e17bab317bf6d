package models

// SkillMetadata declares the capability flags of a skill
type SkillMetadata struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Financial    bool   `json:"financial"`
	ClientFacing bool   `json:"client_facing"`
	ReadOnly     bool   `json:"read_only"`
}
