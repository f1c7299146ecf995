package storage

import "testing"

func TestGeometryValidate(t *testing.T) {
	tests := []struct {
		name    string
		g       Geometry
		wantErr bool
	}{
		{"valid small", Geometry{Cylinders: 16, SectorsPerCylinder: 8, BytesPerSector: 256}, false},
		{"sectors not power of two", Geometry{Cylinders: 16, SectorsPerCylinder: 6, BytesPerSector: 256}, true},
		{"bytes not power of two", Geometry{Cylinders: 16, SectorsPerCylinder: 8, BytesPerSector: 300}, true},
		{"overflow", Geometry{Cylinders: 1 << 60, SectorsPerCylinder: 1 << 10, BytesPerSector: 1 << 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.g.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGeometryAddressing(t *testing.T) {
	g := Geometry{Cylinders: 4, SectorsPerCylinder: 8, BytesPerSector: 256}
	if got := g.TotalSectors(); got != 32 {
		t.Fatalf("TotalSectors() = %d, want 32", got)
	}
	if got := g.CylinderOf(17); got != 2 {
		t.Fatalf("CylinderOf(17) = %d, want 2", got)
	}
	if got := g.SectorInCylinder(17); got != 1 {
		t.Fatalf("SectorInCylinder(17) = %d, want 1", got)
	}
}
