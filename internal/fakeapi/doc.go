// Package fakeapi levanta un backend de alquiler de autos en memoria para
// tests: endpoints de auth de las tres audiencias, rutas protegidas y
// contadores/ganchos para forzar expiraciones, fallas de refresh y
// carreras.
package fakeapi
