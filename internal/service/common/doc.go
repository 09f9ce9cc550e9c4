// Package common holds helpers shared by the deployment services: the error
// taxonomy, tree copy and ownership utilities, and best-effort process and
// service control.
package common
