package imaging

// Modality identifies the acquisition technique of a study's images. Only the
// modalities the analysis engine supports are accepted at the transfer
// boundary.
type Modality string

const (
	// ModalityCT is computed tomography.
	ModalityCT Modality = "CT"

	// ModalityMR is magnetic resonance imaging.
	ModalityMR Modality = "MR"

	// ModalityCR is computed radiography.
	ModalityCR Modality = "CR"

	// ModalityDX is digital radiography.
	ModalityDX Modality = "DX"

	// ModalityMG is digital mammography.
	ModalityMG Modality = "MG"
)

func (m Modality) String() string { return string(m) }

// IsVolumetric reports whether instances of this modality carry a third
// spatial dimension. Findings on planar modalities default to a flat z/depth.
func (m Modality) IsVolumetric() bool { return m == ModalityCT || m == ModalityMR }

// ParseModality converts a string to a Modality. It returns an empty Modality
// for anything outside the supported set.
func ParseModality(s string) Modality {
	switch s {
	case "CT":
		return ModalityCT
	case "MR", "MRI":
		return ModalityMR
	case "CR":
		return ModalityCR
	case "DX":
		return ModalityDX
	case "MG":
		return ModalityMG
	default:
		return ""
	}
}
