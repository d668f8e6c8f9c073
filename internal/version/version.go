package version

const Int = 1
