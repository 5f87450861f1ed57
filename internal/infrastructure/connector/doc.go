// Package connector implements the integration.Adapter port for each
// supported vendor (SAP OData, Power BI push datasets, an IoT tracking
// platform and the Shopify Admin REST API), the adapter factory, and the
// YAML-backed field-mapping provider.
package connector
