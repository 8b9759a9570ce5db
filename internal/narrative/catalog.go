// internal/narrative/catalog.go
package narrative

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/*.yaml
var catalogFS embed.FS

const (
	arcsFile      = "arcs.yaml"
	scenariosFile = "scenarios.yaml"
)

// Catalog 剧情弧与剧本目录
type Catalog struct {
	Arcs      []*NarrativeArc `yaml:"arcs"`
	Scenarios []*Scenario     `yaml:"scenarios"`
}

// LoadCatalog 读取内置目录；dir 非空时用其中存在的同名文件覆盖
func LoadCatalog(dir string) (*Catalog, error) {
	cat := &Catalog{}

	arcsData, err := readCatalogFile(dir, arcsFile)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(arcsData, cat); err != nil {
		return nil, fmt.Errorf("解析剧情弧目录失败: %w", err)
	}

	scenariosData, err := readCatalogFile(dir, scenariosFile)
	if err != nil {
		return nil, err
	}
	var sc Catalog
	if err := yaml.Unmarshal(scenariosData, &sc); err != nil {
		return nil, fmt.Errorf("解析剧本目录失败: %w", err)
	}
	cat.Scenarios = sc.Scenarios

	for _, a := range cat.Arcs {
		if a.ArcID == "" {
			return nil, fmt.Errorf("剧情弧缺少 arc_id: %q", a.Title)
		}
		a.normalize()
	}
	for _, s := range cat.Scenarios {
		if s.ScenarioID == "" {
			return nil, fmt.Errorf("剧本缺少 scenario_id: %q", s.Title)
		}
		if s.Priority == 0 {
			s.Priority = 1
		}
	}
	return cat, nil
}

// SampleCatalog 内置目录，解析失败说明二进制本身有问题
func SampleCatalog() *Catalog {
	cat, err := LoadCatalog("")
	if err != nil {
		panic(err)
	}
	return cat
}

func readCatalogFile(dir, name string) ([]byte, error) {
	if dir != "" {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("读取目录文件失败 %s: %w", path, err)
		}
	}
	return catalogFS.ReadFile("catalog/" + name)
}
