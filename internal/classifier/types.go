package classifier

// RulePack is the YAML document driving classification.
type RulePack struct {
	Version   string        `yaml:"version"`
	Rules     []Rule        `yaml:"rules"`
	Injection InjectionRule `yaml:"injection"`
}

type Rule struct {
	Category  string   `yaml:"category"`
	BaseScore int      `yaml:"base_score"`
	Patterns  []string `yaml:"patterns"`
}

type InjectionRule struct {
	Boost    int      `yaml:"boost"`
	Cap      int      `yaml:"cap"`
	Patterns []string `yaml:"patterns"`
}
