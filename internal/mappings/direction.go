// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package mappings

// The helpers below rename between the source namespace (0) and the target
// namespace (the last one). Class names and descriptors are always given in
// the namespace being renamed from.

// DeobfuscateClass renames a class from the source to the target namespace.
func (t *Table) DeobfuscateClass(name string) (string, bool) {
	return t.RenameClass(name, t.Source(), t.Target())
}

// ObfuscateClass renames a class from the target to the source namespace.
func (t *Table) ObfuscateClass(name string) (string, bool) {
	return t.RenameClass(name, t.Target(), t.Source())
}

// DeobfuscateMethod renames a method from the source to the target namespace.
func (t *Table) DeobfuscateMethod(class, name, desc string) (string, bool) {
	return t.RenameMethod(class, name, desc, t.Source(), t.Target())
}

// ObfuscateMethod renames a method from the target to the source namespace.
func (t *Table) ObfuscateMethod(class, name, desc string) (string, bool) {
	return t.RenameMethod(class, name, desc, t.Target(), t.Source())
}

// ObfuscatedMethods lists the source descriptors of every overload of
// class.name in the source namespace.
func (t *Table) ObfuscatedMethods(class, name string) []string {
	return t.MethodsByName(class, name, t.Source())
}

// DeobfuscatedMethods lists the target descriptors of every overload of
// class.name in the target namespace.
func (t *Table) DeobfuscatedMethods(class, name string) []string {
	return t.MethodsByName(class, name, t.Target())
}

// DeobfuscateField renames a field from the source to the target namespace.
func (t *Table) DeobfuscateField(class, name string) (string, bool) {
	return t.RenameField(class, name, t.Source(), t.Target())
}

// ObfuscateField renames a field from the target to the source namespace.
func (t *Table) ObfuscateField(class, name string) (string, bool) {
	return t.RenameField(class, name, t.Target(), t.Source())
}
