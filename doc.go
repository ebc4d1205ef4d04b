// Package sifudf contains the core components of Sif UDF, a pipeline for offloading grouped and
// row-wise user-defined functions to external worker processes while keeping data columnar.
// This root package defines the types shared by every stage of the pipeline (batch iterators,
// task contexts, evaluation types, expressions and UDFs) and is an overview of its key concepts.
package sifudf
