package validator

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/andina-health/glosas-cli/internal/catalog"
	"github.com/andina-health/glosas-cli/internal/glosa"
	"github.com/andina-health/glosas-cli/internal/model"
	"github.com/andina-health/glosas-cli/internal/tariff"
)

// AutorizacionValidator checks that an active authorization covers the
// billed procedure, patient and quantity. Expiry detected here is flagged
// in the details; persisting the expired state is the orchestrator's call.
type AutorizacionValidator struct{}

func (AutorizacionValidator) Name() model.TipoValidacion { return model.ValidacionAutorizacion }

func (AutorizacionValidator) Check(item model.ItemFactura, paciente model.PerfilPaciente, _ string, ref RefData) model.Validacion {
	if item.NumeroAutorizacion == "" {
		return rechazada(
			fmt.Sprintf("El servicio %s no cuenta con número de autorización", item.CUPS),
			map[string]any{"cups": item.CUPS},
		)
	}

	aut, ok := ref.Autorizaciones[item.NumeroAutorizacion]
	if !ok || aut == nil {
		return rechazada(
			fmt.Sprintf("Autorización %s no encontrada", item.NumeroAutorizacion),
			map[string]any{"numero": item.NumeroAutorizacion},
		)
	}

	if aut.Vencida(ref.Hoy) {
		return rechazada(
			fmt.Sprintf("Autorización %s vencida el %s", aut.Numero, aut.FechaVencimiento.Format("2006-01-02")),
			map[string]any{"numero": aut.Numero, "vencida": true},
		)
	}
	if !aut.ActivaA(ref.Hoy) {
		return rechazada(
			fmt.Sprintf("Autorización %s no está activa (estado: %s)", aut.Numero, aut.Estado),
			map[string]any{"numero": aut.Numero, "estado": string(aut.Estado)},
		)
	}

	if aut.Paciente.NumeroDocumento != "" && aut.Paciente.NumeroDocumento != paciente.NumeroDocumento {
		return rechazada(
			fmt.Sprintf("Autorización %s corresponde a otro paciente", aut.Numero),
			map[string]any{"numero": aut.Numero},
		)
	}

	servicio, ok := aut.Servicio(item.CUPS)
	if !ok {
		return rechazada(
			fmt.Sprintf("Autorización %s no cubre el procedimiento %s", aut.Numero, item.CUPS),
			map[string]any{"numero": aut.Numero, "cups": item.CUPS},
		)
	}

	if item.Cantidad > servicio.Disponible() {
		return rechazada(
			fmt.Sprintf("Cantidad autorizada insuficiente para %s. Disponible: %d, Solicitado: %d",
				item.CUPS, servicio.Disponible(), item.Cantidad),
			map[string]any{
				"numero":     aut.Numero,
				"cups":       item.CUPS,
				"disponible": servicio.Disponible(),
				"solicitado": item.Cantidad,
			},
		)
	}

	return aprobada(fmt.Sprintf("Autorización %s vigente con cantidad disponible", aut.Numero))
}

// TarifaValidator compares the billed value against the contract-resolved
// expected value within the configured tolerance.
type TarifaValidator struct{}

func (TarifaValidator) Name() model.TipoValidacion { return model.ValidacionTarifa }

func (TarifaValidator) Check(item model.ItemFactura, _ model.PerfilPaciente, _ string, ref RefData) model.Validacion {
	esperadoUnitario, err := tariff.ExpectedValue(ref.Catalogo, ref.ContratoPara(item.FechaServicio), item.CUPS, item.FechaServicio)
	if err != nil {
		if eris.Is(err, tariff.ErrTarifaDesconocida) {
			return rechazada(
				fmt.Sprintf("Código CUPS %s no existe en la tarifa de referencia", item.CUPS),
				map[string]any{"cups": item.CUPS, "codigo_glosa": glosa.CodigoCUPSInexistente},
			)
		}
		return rechazada(
			fmt.Sprintf("No fue posible calcular el valor esperado para %s", item.CUPS),
			map[string]any{"cups": item.CUPS, "error": err.Error()},
		)
	}

	esperado := esperadoUnitario * float64(item.Cantidad)
	variacion := tariff.Variance(item.ValorTotal, esperado)

	tolerancia := ref.Tolerancia
	if tolerancia <= 0 {
		tolerancia = ToleranciaTarifaDefecto
	}

	detalles := map[string]any{
		"esperado":  esperado,
		"facturado": item.ValorTotal,
		"variacion": variacion,
		"delta":     abs(item.ValorTotal - esperado),
	}

	if variacion > tolerancia {
		return rechazada(
			fmt.Sprintf("Valor facturado %.0f difiere del pactado %.0f en %.1f%% (tolerancia %.1f%%)",
				item.ValorTotal, esperado, variacion*100, tolerancia*100),
			detalles,
		)
	}

	return model.Validacion{
		Veredicto: model.VeredictoAprobado,
		Mensaje:   fmt.Sprintf("Valor facturado dentro de la tolerancia (%.1f%%)", variacion*100),
		Detalles:  detalles,
	}
}

// ServicioValidator checks the provider holds an active habilitation for
// the billed service category as of the service date.
type ServicioValidator struct{}

func (ServicioValidator) Name() model.TipoValidacion { return model.ValidacionServicio }

func (ServicioValidator) Check(item model.ItemFactura, _ model.PerfilPaciente, ipsNit string, ref RefData) model.Validacion {
	categoria := catalog.NormalizeCategoria(item.Categoria)
	if categoria == "" {
		if c, ok := ref.Catalogo.Categoria(item.CUPS); ok {
			categoria = c
		}
	}
	if categoria == "" {
		return model.Validacion{
			Veredicto: model.VeredictoAlerta,
			Mensaje:   fmt.Sprintf("El procedimiento %s no tiene categoría de servicio conocida", item.CUPS),
			Detalles:  map[string]any{"cups": item.CUPS},
		}
	}

	for _, h := range ref.Habilitaciones {
		if h.IPSNit == ipsNit && catalog.NormalizeCategoria(h.Categoria) == categoria && h.VigenteA(item.FechaServicio) {
			return aprobada(fmt.Sprintf("IPS habilitada para %s", categoria))
		}
	}

	return rechazada(
		fmt.Sprintf("La IPS no cuenta con habilitación vigente para %s en la fecha del servicio", categoria),
		map[string]any{"categoria": categoria, "ips_nit": ipsNit},
	)
}

// CoherenciaValidator checks clinical consistency between the billed
// procedure and the stated diagnosis via the compatibility table.
type CoherenciaValidator struct{}

func (CoherenciaValidator) Name() model.TipoValidacion { return model.ValidacionCoherencia }

func (CoherenciaValidator) Check(item model.ItemFactura, _ model.PerfilPaciente, _ string, ref RefData) model.Validacion {
	if ref.Compatibilidad.Compatible(item.CUPS, item.DiagnosticoPrincipal) {
		return aprobada("Procedimiento coherente con el diagnóstico")
	}
	return rechazada(
		fmt.Sprintf("El procedimiento %s no es coherente con el diagnóstico %s", item.CUPS, item.DiagnosticoPrincipal),
		map[string]any{"cups": item.CUPS, "cie10": item.DiagnosticoPrincipal},
	)
}

// FechasValidator checks date coherence: the service date may not be in
// the future and must fall inside the covering authorization's window.
type FechasValidator struct{}

func (FechasValidator) Name() model.TipoValidacion { return model.ValidacionFechas }

func (FechasValidator) Check(item model.ItemFactura, _ model.PerfilPaciente, _ string, ref RefData) model.Validacion {
	if item.FechaServicio.After(ref.Hoy) {
		return rechazada(
			fmt.Sprintf("Fecha de servicio %s posterior a la fecha actual", item.FechaServicio.Format("2006-01-02")),
			map[string]any{"fecha_servicio": item.FechaServicio},
		)
	}

	if item.NumeroAutorizacion != "" {
		if aut, ok := ref.Autorizaciones[item.NumeroAutorizacion]; ok && aut != nil {
			if item.FechaServicio.Before(aut.FechaExpedicion) || item.FechaServicio.After(aut.FechaVencimiento) {
				return rechazada(
					fmt.Sprintf("Fecha de servicio %s fuera de la vigencia de la autorización %s",
						item.FechaServicio.Format("2006-01-02"), aut.Numero),
					map[string]any{"numero": aut.Numero, "fecha_servicio": item.FechaServicio},
				)
			}
		}
	}

	return aprobada("Fechas coherentes")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
