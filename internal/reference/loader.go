package reference

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadEnumCatalog читает все enum-справочники (*.yaml, *.yml) из dir.
// Отсутствующая папка означает пустой каталог.
func LoadEnumCatalog(dir string) (map[string]EnumDirectory, error) {
	result := make(map[string]EnumDirectory)
	files, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		ext := strings.ToLower(filepath.Ext(file.Name()))
		if file.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var enumDir EnumDirectory
		if err := yaml.Unmarshal(data, &enumDir); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		// имя справочника — из name или из имени файла
		if enumDir.Name == "" {
			enumDir.Name = strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		}
		if _, dup := result[enumDir.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate catalog %q", path, enumDir.Name)
		}
		seen := map[string]bool{}
		for _, it := range enumDir.Items {
			if strings.TrimSpace(it.Code) == "" {
				return nil, fmt.Errorf("%s: item without code", path)
			}
			if seen[it.Code] {
				return nil, fmt.Errorf("%s: duplicate code %q", path, it.Code)
			}
			seen[it.Code] = true
		}
		result[enumDir.Name] = enumDir
	}
	return result, nil
}

// Codes — коды действующих на дату at элементов каждого справочника,
// по order, затем в порядке файла.
func Codes(catalog map[string]EnumDirectory, at time.Time) map[string][]string {
	out := make(map[string][]string, len(catalog))
	for name, dir := range catalog {
		items := make([]EnumItem, 0, len(dir.Items))
		for _, it := range dir.Items {
			if it.ActiveAt(at) {
				items = append(items, it)
			}
		}
		sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
		codes := make([]string, len(items))
		for i, it := range items {
			codes[i] = it.Code
		}
		out[name] = codes
	}
	return out
}
