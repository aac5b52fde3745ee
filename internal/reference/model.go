// Package reference читает справочники enum (YAML) и отдаёт их коды для
// атрибутов DSL с опцией catalog=.
package reference

import "time"

// EnumDirectory описывает один справочник типа enum
type EnumDirectory struct {
	Name  string     `yaml:"name" json:"name"`
	Items []EnumItem `yaml:"items" json:"items"`
}

type EnumItem struct {
	Code      string `yaml:"code" json:"code"`
	Name      string `yaml:"name" json:"name"`
	Order     int    `yaml:"order,omitempty" json:"order,omitempty"`
	ValidFrom string `yaml:"valid_from,omitempty" json:"validFrom,omitempty"`
	ValidTo   string `yaml:"valid_to,omitempty" json:"validTo,omitempty"`
}

const dateLayout = "2006-01-02"

// ActiveAt: элемент действует на дату at (границы включительно, пустая граница открыта).
func (it EnumItem) ActiveAt(at time.Time) bool {
	day := at.Format(dateLayout)
	if it.ValidFrom != "" && day < it.ValidFrom {
		return false
	}
	if it.ValidTo != "" && day > it.ValidTo {
		return false
	}
	return true
}
