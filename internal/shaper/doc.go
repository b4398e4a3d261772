// Package shaper turns executor output into typed artifacts: an empty
// result, a rectangular table capped at MaxTableRows, or an error. It also
// infers column roles for charting and exports tables to CSV and XLSX.
package shaper
