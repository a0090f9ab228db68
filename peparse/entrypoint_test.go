package peparse

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"petriage/common"
)

func TestEntryPointChecks(t *testing.T) {
	type epCase struct {
		name     string
		setup    func(m *testImage)
		warnings []string
		errors   []string
	}
	tests := []epCase{
		{
			name:  "zero entry point in executable",
			setup: func(m *testImage) { m.setEntryPoint(0) },
			warnings: []string{
				"Possible executable resource file (Entry Point RVA = 0)",
				"NON-DLL file with EP RVA = 0",
			},
		},
		{
			name: "zero entry point in DLL",
			setup: func(m *testImage) {
				m.setEntryPoint(0)
				m.setFileCharacteristics(fileCharDLL | fileCharExecutable)
			},
			warnings: []string{"Possible executable resource file (Entry Point RVA = 0)"},
		},
		{
			name:     "file address used as entry point",
			setup:    func(m *testImage) { m.setEntryPoint(0x200) },
			warnings: []string{"Entry Point is a File Address", "EP is not inside any section"},
			errors:   []string{"Invalid Entry Point RVA (0x200)"},
		},
		{
			name:     "entry point past end of file",
			setup:    func(m *testImage) { m.setEntryPoint(0x5000) },
			warnings: []string{"EP is not inside any section"},
			errors:   []string{"Entry Point is outside the file RVA=(0x5000)"},
		},
		{
			name:   "zero bytes at entry point",
			setup:  func(m *testImage) { m.setEntryPoint(0x1800) },
			errors: []string{"Invalid code at Entry Point RVA=(0x1800)"},
		},
		{
			name: "entry point in data section",
			setup: func(m *testImage) {
				m.setEntryPoint(rdataRVA)
				m.buf[m.at(rdataRVA)] = 0xCC
			},
			warnings: []string{"EP section without Executable characteristic"},
		},
		{
			name: "entry point section without access rights",
			setup: func(m *testImage) {
				m.setEntryPoint(rdataRVA)
				m.buf[m.at(rdataRVA)] = 0xCC
				m.setSection(1, ".rdata", rdataRVA, SectionInitializedData)
			},
			warnings: []string{"EP section without Executable characteristic"},
			errors:   []string{"EP section (.rdata) has no Execute, Read or Write characteristic"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestImage(false)
			tt.setup(m)
			f := m.parse(t)
			assert.Equal(t, tt.warnings, f.Diagnostics.Messages(common.SeverityWarning))
			assert.Equal(t, tt.errors, f.Diagnostics.Messages(common.SeverityError))
		})
	}
}
