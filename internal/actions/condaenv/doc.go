// Package condaenv implements the builtin setup-conda action. It provisions
// a named conda environment from a descriptor file (or a bare python
// version) and publishes the activation variables — PATH, CONDA_DEFAULT_ENV,
// CONDA_PREFIX — so the steps that follow resolve commands against the
// provisioned environment.
package condaenv
