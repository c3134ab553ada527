// Package testutil holds fixtures shared by command and package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"metricdrop/internal/common"
	"metricdrop/internal/warehouse"
)

// EnvironmentsYAML defines dev and prod against main/metrics.
const EnvironmentsYAML = `global:
  data_sources:
    orders: samples.tpch.orders
dev:
  catalog: main
  schema: metrics
  warehouse_id: abc123
  tags:
    environment: dev
prod:
  catalog: prod
  schema: metrics
  warehouse_id: def456
`

// OrdersDefinition is a plain metric view definition.
const OrdersDefinition = `version: 0.1
source: samples.tpch.orders
dimensions:
  - name: order_status
    expr: o_orderstatus
measures:
  - name: order_count
    expr: COUNT(1)
`

// Project is a throwaway project directory.
type Project struct {
	t   *testing.T
	Dir string
}

// NewProject creates an empty project with the environments file in place.
func NewProject(t *testing.T) *Project {
	t.Helper()
	p := &Project{t: t, Dir: t.TempDir()}
	p.WriteFile(filepath.Join("config", "environments.yml"), EnvironmentsYAML)
	for _, dir := range []string{"view_definitions", "tests"} {
		if err := os.MkdirAll(filepath.Join(p.Dir, dir), common.DirPermissionNormal); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	return p
}

// WriteFile writes content to a path relative to the project.
func (p *Project) WriteFile(rel, content string) string {
	p.t.Helper()
	path := filepath.Join(p.Dir, rel)

	if err := os.MkdirAll(filepath.Dir(path), common.DirPermissionNormal); err != nil {
		p.t.Fatalf("Failed to create directories: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), common.FilePermissionSecure); err != nil {
		p.t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// AddDefinition writes view_definitions/<file>.
func (p *Project) AddDefinition(file, content string) string {
	return p.WriteFile(filepath.Join("view_definitions", file), content)
}

// AddTest writes tests/test_<view>.sql.
func (p *Project) AddTest(view, sql string) string {
	return p.WriteFile(filepath.Join("tests", "test_"+view+".sql"), sql)
}

// Path joins rel onto the project directory.
func (p *Project) Path(rel ...string) string {
	return filepath.Join(append([]string{p.Dir}, rel...)...)
}

// MockWarehouse returns a warehouse service backed by sqlmock. Unmet expectations fail
// the test at cleanup.
func MockWarehouse(t *testing.T) (*warehouse.Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet warehouse expectations: %v", err)
		}
		_ = db.Close()
	})
	return warehouse.NewServiceFromDB(db, warehouse.Config{Timeout: 5 * time.Second}), mock
}
