package model

// ExencionTodos marks a fee row as exempt for every patient profile.
const ExencionTodos = "Todos"

// CuotaModeradora is a standalone moderating-fee schedule row keyed by
// (regimen, income category, service type). Either a fixed value or a
// percentage of the reference minimum wage applies, capped by Tope when set.
type CuotaModeradora struct {
	ID               string   `json:"id"`
	Regimen          Regimen  `json:"regimen"`
	CategoriaIngreso string   `json:"categoria_ingreso"`
	TipoServicio     string   `json:"tipo_servicio"` // e.g. "CONSULTA_MEDICINA_GENERAL"
	ValorFijo        float64  `json:"valor_fijo,omitempty"`
	Porcentaje       float64  `json:"porcentaje,omitempty"`
	Tope             *float64 `json:"tope,omitempty"`
	Exenciones       []string `json:"exenciones,omitempty"`
}

// Exento reports whether any configured exemption matches the patient
// profile. Recognized exemptions: "Todos", "Embarazo", "Desplazado",
// "MenorDeUnAno" and "MayorDe65".
func (c CuotaModeradora) Exento(p PerfilPaciente, edad int) bool {
	for _, e := range c.Exenciones {
		switch e {
		case ExencionTodos:
			return true
		case "Embarazo":
			if p.Embarazada {
				return true
			}
		case "Desplazado":
			if p.Desplazado {
				return true
			}
		case "MenorDeUnAno":
			if edad == 0 {
				return true
			}
		case "MayorDe65":
			if edad >= 65 {
				return true
			}
		}
	}
	return false
}
