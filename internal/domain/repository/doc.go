// Package repository define el modelo de dominio del core de integraciones
// y los puertos (interfaces) que implementan los adapters de store.
//
// Las interfaces viven acá y los drivers (pg, memory) las implementan;
// los services dependen solo de este paquete. Toda mutación del registro de
// integración pasa por IntegrationRepository — nunca por SQL directo desde
// un service.
package repository
