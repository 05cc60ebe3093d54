// Package sbom derives a CycloneDX component manifest from a scanned
// artifact's native report. Emission is best-effort: a scan whose
// manifest cannot be built still completes.
package sbom

import (
	"encoding/json"
	"fmt"

	"github.com/anchore/syft/syft/format"
	"github.com/anchore/syft/syft/format/cyclonedxjson"
	"github.com/anchore/syft/syft/pkg"
	"github.com/anchore/syft/syft/sbom"
	"github.com/anchore/syft/syft/source"

	"github.com/modelguard/modelguard/internal/scanners"
)

// nativeComponent is a component record as tools report it. Tools that
// have no component notion still carry a file inventory we can fall
// back to.
type nativeComponent struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Type    string `json:"type"`
	PURL    string `json:"purl"`
}

type componentDocument struct {
	Components []nativeComponent `json:"components"`
	Files      []struct {
		Path string `json:"path"`
	} `json:"files"`
}

// Emit builds a syft SBOM from the report's component records (or file
// inventory) and encodes it as CycloneDX JSON.
func Emit(artifact string, report *scanners.Report) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("no report to derive a manifest from")
	}

	components, err := extractComponents(report.Payload)
	if err != nil {
		return nil, err
	}
	if len(components) == 0 {
		return nil, fmt.Errorf("report from %s carries no component records", report.Scanner)
	}

	collection := pkg.NewCollection()
	for _, component := range components {
		p := pkg.Package{
			Name:    component.Name,
			Version: component.Version,
			Type:    packageType(component.Type),
			PURL:    component.PURL,
		}
		p.SetID()
		collection.Add(p)
	}

	doc := sbom.SBOM{
		Artifacts: sbom.Artifacts{Packages: collection},
		Source:    source.Description{Name: artifact},
		Descriptor: sbom.Descriptor{
			Name: "modelguard",
		},
	}

	encoder, err := cyclonedxjson.NewFormatEncoderWithConfig(cyclonedxjson.DefaultEncoderConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create cyclonedx encoder: %w", err)
	}
	encoded, err := format.Encode(doc, encoder)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest for %s: %w", artifact, err)
	}
	return encoded, nil
}

// extractComponents reads component records from the native report,
// falling back to the file inventory.
func extractComponents(payload []byte) ([]nativeComponent, error) {
	var doc componentDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse report for components: %w", err)
	}
	if len(doc.Components) > 0 {
		return doc.Components, nil
	}
	components := make([]nativeComponent, 0, len(doc.Files))
	for _, file := range doc.Files {
		if file.Path == "" {
			continue
		}
		components = append(components, nativeComponent{Name: file.Path, Type: "file"})
	}
	return components, nil
}

func packageType(native string) pkg.Type {
	switch native {
	case "python", "pip":
		return pkg.PythonPkg
	case "npm", "node":
		return pkg.NpmPkg
	case "go", "golang":
		return pkg.GoModulePkg
	default:
		return pkg.UnknownPkg
	}
}
