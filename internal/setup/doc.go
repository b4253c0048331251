// Package setup locates, initializes and loads the files that configure a
// stemcell build: the options file and the optional manifest override.
//
// This package is essentially a collection of scripts and constants, and is therefore the only package that is
// allowed to call a global logger.
package setup
