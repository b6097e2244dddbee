// Package application contém os casos de uso de controle de admissão e de
// limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: AdmissionController.Check(key) retorna uma Decision (allow/deny + contador).
package application
